package model

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestTestSessionStringRedactsToken(t *testing.T) {
	s := &TestSession{ID: 7, TestID: 3, UserID: 9, SessionToken: "secret-token", Status: SessionStatusInProgress}
	out := fmt.Sprintf("%v", s)
	if strings.Contains(out, "secret-token") {
		t.Fatalf("token leaked: %s", out)
	}
	if !strings.Contains(out, "id=7") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRemainingSeconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		status  SessionStatus
		expires time.Time
		want    int
	}{
		{"in progress", SessionStatusInProgress, now.Add(90 * time.Second), 90},
		{"past expiry", SessionStatusInProgress, now.Add(-time.Second), 0},
		{"exactly at expiry", SessionStatusInProgress, now, 0},
		{"submitted", SessionStatusSubmitted, now.Add(time.Minute), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &TestSession{Status: tt.status, ExpiresAt: tt.expires}
			if got := s.RemainingSeconds(now); got != tt.want {
				t.Errorf("RemainingSeconds = %d, want %d", got, tt.want)
			}
		})
	}
}
