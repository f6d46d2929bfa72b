package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/metrics"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
)

const (
	// MaxResultAttempts bounds how often a single result calculation is retried.
	MaxResultAttempts = 5
	resultPollTimeout = time.Second
)

// ResultCalculator is the part of the result service the worker drives.
type ResultCalculator interface {
	Calculate(ctx context.Context, sessionID int) (*model.TestResult, error)
	Enqueue(ctx context.Context, job service.ResultJob) error
}

// ResultWorker consumes calculate_results_queue and retries result
// calculations that failed during submit or expiry.
type ResultWorker struct {
	rdb     *redis.Client
	results ResultCalculator
	log     zerolog.Logger
}

// NewResultWorker creates a new ResultWorker.
func NewResultWorker(rdb *redis.Client, results ResultCalculator, log zerolog.Logger) *ResultWorker {
	return &ResultWorker{
		rdb:     rdb,
		results: results,
		log:     log.With().Str("component", "result_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ResultWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ResultWorker) processNext(ctx context.Context) {
	item, err := w.rdb.BLPop(ctx, resultPollTimeout, config.WorkerKey.CalculateResultsQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			time.Sleep(resultPollTimeout)
		}
		return
	}
	if len(item) < 2 {
		return
	}
	w.handle(ctx, item[1])
}

func (w *ResultWorker) handle(ctx context.Context, raw string) {
	var job service.ResultJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Msg("Invalid JSON payload")
		metrics.ResultJobs.WithLabelValues("dropped").Inc()
		return
	}

	_, err := w.results.Calculate(ctx, job.SessionID)
	switch {
	case err == nil:
		metrics.ResultJobs.WithLabelValues("ok").Inc()
		w.log.Info().Int("session_id", job.SessionID).Int("attempt", job.Attempt).Msg("Result calculated")
		return
	case errors.Is(err, model.ErrNotFound), errors.Is(err, service.ErrResultNotReady):
		// Nothing to grade yet or ever; retrying cannot help.
		metrics.ResultJobs.WithLabelValues("dropped").Inc()
		w.log.Warn().Err(err).Int("session_id", job.SessionID).Msg("Dropping result job")
		return
	}

	if job.Attempt >= MaxResultAttempts {
		metrics.ResultJobs.WithLabelValues("dropped").Inc()
		w.log.Error().Err(err).Int("session_id", job.SessionID).Int("attempt", job.Attempt).
			Msg("Result calculation failed permanently")
		return
	}

	metrics.ResultJobs.WithLabelValues("retry").Inc()
	w.log.Warn().Err(err).Int("session_id", job.SessionID).Int("attempt", job.Attempt).Msg("Result calculation failed, requeueing")
	job.Attempt++
	if qErr := w.results.Enqueue(ctx, job); qErr != nil {
		w.log.Error().Err(qErr).Int("session_id", job.SessionID).Msg("Requeue failed")
	}
}
