package platform

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection refused", errors.New("dial tcp: connection-refused"), true},
		{"timeout", errors.New("context deadline exceeded: TIMEOUT"), true},
		{"deadlock", errors.New("pq: deadlock detected"), true},
		{"not found", errors.New("pgx.ErrNoRows"), false},
		{"unique violation", errors.New("duplicate key value violates unique constraint"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, Base: time.Millisecond, Cap: 10 * time.Millisecond}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("dial: connection-refused")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, Base: time.Millisecond, Cap: 10 * time.Millisecond}

	attempts := 0
	wantErr := errors.New("unique constraint violation")
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return wantErr
	})

	if !errors.Is(err, wantErr) {
		t.Fatalf("Retry() error = %v, want %v", err, wantErr)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (non-transient errors should not retry)", attempts)
	}
}

func TestRetry_ExhaustsMaxRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, Base: time.Millisecond, Cap: 5 * time.Millisecond}

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return errors.New("timeout")
	})

	if err == nil {
		t.Fatal("Retry() error = nil, want non-nil after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
}
