package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/apitracker/internal/apierr"
	"github.com/wisbric/apitracker/internal/auth"
	"github.com/wisbric/apitracker/internal/httpserver"
)

// Handler serves GET /usage/stream, authenticating via a query-string
// token or apiKey since EventSource clients cannot set headers.
type Handler struct {
	fanout *Fanout
	issuer *auth.TokenIssuer
	lookup auth.CallerLookup
	logger *slog.Logger
	daily  func() (any, error)
	top    func() (any, error)
}

// NewHandler builds an SSE stream handler. dailyFn/topFn compute the
// periodic push payloads (Analytics.Daily(7) / Analytics.Top(24,3)).
func NewHandler(fanout *Fanout, issuer *auth.TokenIssuer, lookup auth.CallerLookup, dailyFn, topFn func() (any, error), logger *slog.Logger) *Handler {
	return &Handler{fanout: fanout, issuer: issuer, lookup: lookup, daily: dailyFn, top: topFn, logger: logger}
}

// ServeHTTP handles GET /usage/stream?token=...&channel=...
// or ?apiKey=...&channel=....
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callerID, err := h.authenticate(r)
	if err != nil {
		httpserver.RespondAPIErr(w, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	channel := r.URL.Query().Get("channel")
	if channel == "" {
		channel = "all"
	}

	sub := newSubscriber(callerID, w, flusher, channel)
	h.fanout.Join(sub)
	defer h.fanout.Leave(sub)

	sub.deliver("connected", map[string]any{
		"caller_id": callerID,
		"channel":   channel,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	push := time.NewTicker(pushInterval)
	defer push.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			sub.heartbeat()
		case <-push.C:
			h.pushPeriodic(sub)
		}
	}
}

func (h *Handler) authenticate(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		claims, err := h.issuer.Verify(token)
		if err != nil {
			return "", apierr.Unauthenticated("invalid or expired token")
		}
		return claims.CallerID, nil
	}

	if apiKey := r.URL.Query().Get("apiKey"); apiKey != "" && len(apiKey) >= auth.KeyPrefixLen {
		callerID, _, _, hash, active, err := h.lookup.LookupByAPIKeyPrefix(r.Context(), apiKey[:auth.KeyPrefixLen])
		if err != nil || !auth.CompareAPIKey(hash, apiKey) || !active {
			return "", apierr.Unauthenticated("invalid api key")
		}
		return callerID, nil
	}

	return "", apierr.Unauthenticated("missing credentials")
}

func (h *Handler) pushPeriodic(sub *Subscriber) {
	if sub.wantsChannel("usage:daily") || sub.wantsChannel("all") {
		if h.daily != nil {
			if data, err := h.daily(); err == nil {
				sub.deliver("usage:daily:update", data)
			}
		}
	}
	if sub.wantsChannel("usage:top") || sub.wantsChannel("all") {
		if h.top != nil {
			if data, err := h.top(); err == nil {
				sub.deliver("usage:top:update", data)
			}
		}
	}
}
