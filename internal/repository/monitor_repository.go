package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
)

// MonitorRepository provides data access for the live test monitoring feature.
// It combines PostgreSQL (session state) and Redis (live answer counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListLiveSessions returns every in-progress session of a test with the
// answered count taken from the database.
func (r *MonitorRepository) ListLiveSessions(ctx context.Context, testID int) ([]model.LiveSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.user_id, u.username, u.full_name, s.status, s.started_at, s.expires_at,
		        s.current_question_index,
		        (SELECT COUNT(*) FROM user_answers a
		         WHERE a.session_id = s.id
		           AND (a.selected_option_id IS NOT NULL OR btrim(COALESCE(a.answer_text, '')) <> ''))
		 FROM test_sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.test_id = $1 AND s.status = 'in_progress'
		 ORDER BY u.full_name`, testID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.LiveSession, error) {
		var l model.LiveSession
		err := row.Scan(&l.SessionID, &l.UserID, &l.Username, &l.FullName, &l.Status, &l.StartedAt,
			&l.ExpiresAt, &l.CurrentQuestionIndex, &l.AnsweredCount)
		return l, err
	})
}

// GetAnsweredCounts returns the live answered count per session from Redis.
// Sessions without a Redis set are absent from the map.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, sessionIDs []int) (map[int]int64, error) {
	counts := make(map[int]int64, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return counts, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make(map[int]*redis.IntCmd, len(sessionIDs))
	for _, id := range sessionIDs {
		cmds[id] = pipe.SCard(ctx, config.CacheKey.SessionAnsweredKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for id, cmd := range cmds {
		if n, err := cmd.Result(); err == nil && n > 0 {
			counts[id] = n
		}
	}
	return counts, nil
}
