package platform

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// transientMarkers is the fixed, case-insensitive substring list the
// classifier matches against to decide whether an error is retryable.
var transientMarkers = []string{
	"connection-refused",
	"timeout",
	"host-not-found",
	"host-unreachable",
	"connection-lost",
	"deadlock",
	"lock-timeout",
	"too-many-connections",
	"query-failed",
}

// IsTransient reports whether err matches the transient-error marker list.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryConfig controls the Retry Harness's backoff schedule.
type RetryConfig struct {
	MaxRetries uint
	Base       time.Duration
	Cap        time.Duration
}

// DefaultRetryConfig is the KV/DB default: N=3, base=200ms, cap=5s.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	Base:       200 * time.Millisecond,
	Cap:        5 * time.Second,
}

// Retry runs action, retrying only transient failures with exponential
// backoff min(base·2^(n-1), cap) up to cfg.MaxRetries times. Non-transient
// errors propagate immediately without retry. After exhausting retries, the
// last error propagates.
func Retry(ctx context.Context, cfg RetryConfig, action func() error) error {
	op := func() (struct{}, error) {
		if err := action(); err != nil {
			if IsTransient(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.Base
	bo.MaxInterval = cfg.Cap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(cfg.MaxRetries+1),
	)
	return err
}
