package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
)

const expiryBatchSize = 100

// OverdueExpirer marks overdue in-progress sessions as expired.
type OverdueExpirer interface {
	ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]model.TestSession, error)
}

// FinalizeNotifier runs the follow-up work for a session finalized outside
// the request path.
type FinalizeNotifier interface {
	Finalized(ctx context.Context, session *model.TestSession)
}

// ExpiryWorker periodically expires in-progress sessions whose deadline has
// passed without a submit, so their results are produced even when the
// student never comes back.
type ExpiryWorker struct {
	sessions OverdueExpirer
	notifier FinalizeNotifier
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(sessions OverdueExpirer, notifier FinalizeNotifier, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		sessions: sessions,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs the sweep on every interval until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep drains overdue sessions in batches and returns how many it expired.
func (w *ExpiryWorker) sweep(ctx context.Context) int {
	total := 0
	for {
		expired, err := w.sessions.ExpireOverdue(ctx, w.now(), expiryBatchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("Expire overdue sessions failed")
			}
			return total
		}

		for i := range expired {
			w.notifier.Finalized(ctx, &expired[i])
		}
		total += len(expired)

		if len(expired) < expiryBatchSize {
			break
		}
	}

	if total > 0 {
		w.log.Info().Int("count", total).Msg("Expired overdue sessions")
	}
	return total
}
