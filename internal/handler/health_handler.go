package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/response"
	"golang.org/x/sync/errgroup"
)

// HealthHandler reports whether the server's backing stores are reachable.
type HealthHandler struct {
	pool      *pgxpool.Pool
	rdb       *redis.Client
	startTime time.Time
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(pool *pgxpool.Pool, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{pool: pool, rdb: rdb, startTime: time.Now()}
}

// Health godoc
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var dbErr, redisErr error
	var g errgroup.Group
	g.Go(func() error {
		dbErr = h.pool.Ping(ctx)
		return nil
	})
	g.Go(func() error {
		redisErr = h.rdb.Ping(ctx).Err()
		return nil
	})
	_ = g.Wait()

	status := http.StatusOK
	overall := "ok"
	if dbErr != nil || redisErr != nil {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	response.Success(c, status, gin.H{
		"status":         overall,
		"postgres":       errStatus(dbErr),
		"redis":          errStatus(redisErr),
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}

func errStatus(err error) string {
	if err != nil {
		return "down"
	}
	return "up"
}
