package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/repository"
)

// Monitor event types.
const (
	EventSessionStarted   = "session_started"
	EventAnswerSaved      = "answer_saved"
	EventProgress         = "progress"
	EventSessionFinalized = "session_finalized"
)

// MonitorEvent is published on the test's monitor channel whenever a session changes.
type MonitorEvent struct {
	Type          string              `json:"type"`
	TestID        int                 `json:"test_id"`
	SessionID     int                 `json:"session_id"`
	UserID        int                 `json:"user_id"`
	QuestionID    int                 `json:"question_id,omitempty"`
	QuestionIndex *int                `json:"question_index,omitempty"`
	Status        model.SessionStatus `json:"status,omitempty"`
	At            time.Time           `json:"at"`
}

// MonitorService orchestrates live test monitoring.
type MonitorService struct {
	monitorRepo *repository.MonitorRepository
	rdb         *redis.Client
	log         zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, rdb *redis.Client, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		monitorRepo: monitorRepo,
		rdb:         rdb,
		log:         log.With().Str("component", "monitor_service").Logger(),
	}
}

// Snapshot returns every live session of a test. Redis answered counts, when
// present, replace the database counts since they are updated on each autosave.
func (s *MonitorService) Snapshot(ctx context.Context, testID int) ([]model.LiveSession, error) {
	sessions, err := s.monitorRepo.ListLiveSessions(ctx, testID)
	if err != nil {
		return nil, err
	}

	ids := make([]int, len(sessions))
	for i := range sessions {
		ids[i] = sessions[i].SessionID
	}

	counts, err := s.monitorRepo.GetAnsweredCounts(ctx, ids)
	if err != nil {
		s.log.Warn().Err(err).Int("test_id", testID).Msg("Live answered counts unavailable")
		return sessions, nil
	}
	for i := range sessions {
		if n, ok := counts[sessions[i].SessionID]; ok {
			sessions[i].AnsweredCount = n
		}
	}
	return sessions, nil
}

// Publish broadcasts ev to the test's monitor channel. Failures are logged only.
func (s *MonitorService) Publish(ctx context.Context, ev MonitorEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.TestMonitorChannel(ev.TestID), payload).Err(); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Int("session_id", ev.SessionID).Msg("Monitor publish failed")
	}
}

// Subscribe opens a subscription to a test's monitor channel. The caller closes it.
func (s *MonitorService) Subscribe(ctx context.Context, testID int) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.TestMonitorChannel(testID))
}
