package ratelimit

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/wisbric/apitracker/internal/auth"
	"github.com/wisbric/apitracker/internal/kv"
)

type fakeCallerLookup struct {
	callerID, email, name, hash string
	active                      bool
}

func (f fakeCallerLookup) LookupByAPIKeyPrefix(_ context.Context, _ string) (string, string, string, string, bool, error) {
	return f.callerID, f.email, f.name, f.hash, f.active, nil
}

type fakeCeilings struct{ limit int }

func (f fakeCeilings) RateLimitFor(string) int { return f.limit }

func TestMiddleware_SetsRateLimitHeaders(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := kv.New(context.Background(), "redis://"+mr.Addr(), "", logger)
	if err != nil {
		t.Fatalf("kv.New() error = %v", err)
	}
	t.Cleanup(func() { gw.Close() })

	limiter := New(gw, 10, time.Hour, logger)

	apiKey := "testapikeyvalue12345678"
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}
	lookup := fakeCallerLookup{callerID: "CL-AAAAAAAAAAAA", email: "a@example.com", name: "A", hash: hash, active: true}

	handler := auth.RequireAPIKey(lookup, logger)(
		Middleware(limiter, fakeCeilings{limit: 5}, time.Hour)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/usage/daily", nil)
	req.Header.Set("X-API-Key", apiKey)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-RateLimit-Window"); got != "3600s" {
		t.Errorf("X-RateLimit-Window = %q, want %q (spec uses bare seconds, not time.Duration.String())", got, "3600s")
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("X-RateLimit-Limit = %q, want %q", got, "5")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("X-RateLimit-Remaining = %q, want %q", got, "4")
	}
}

func TestMiddleware_DeniesOverCeiling(t *testing.T) {
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := kv.New(context.Background(), "redis://"+mr.Addr(), "", logger)
	if err != nil {
		t.Fatalf("kv.New() error = %v", err)
	}
	t.Cleanup(func() { gw.Close() })

	limiter := New(gw, 10, time.Hour, logger)

	apiKey := "testapikeyvalue12345678"
	hash, err := auth.HashAPIKey(apiKey)
	if err != nil {
		t.Fatalf("HashAPIKey() error = %v", err)
	}
	lookup := fakeCallerLookup{callerID: "CL-AAAAAAAAAAAA", hash: hash, active: true}

	handler := auth.RequireAPIKey(lookup, logger)(
		Middleware(limiter, fakeCeilings{limit: 1}, time.Hour)(
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}),
		),
	)

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/usage/daily", nil)
		r.Header.Set("X-API-Key", apiKey)
		return r
	}

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req())
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req())
	if rec2.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec2.Code)
	}
	if rec2.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429 response")
	}
}
