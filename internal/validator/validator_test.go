package validator

import (
	"strings"
	"testing"
)

func TestIsSessionToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"hex 64", strings.Repeat("ab", 32), true},
		{"too short", strings.Repeat("ab", 31), false},
		{"uppercase", strings.Repeat("AB", 32), false},
		{"non hex", strings.Repeat("zz", 32), false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSessionToken(tt.token); got != tt.want {
				t.Errorf("IsSessionToken(%q) = %v, want %v", tt.token, got, tt.want)
			}
		})
	}
}
