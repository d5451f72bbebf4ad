// Package stream implements the Event Fan-out (C10): publish-side
// broadcasting of newly-ingested activity records, and a subscribe-side
// registry dispatching to live SSE subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wisbric/apitracker/internal/telemetry"
)

const logChannel = "api:log:new"

// KV is the subset of internal/kv.Gateway the fan-out needs.
type KV interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) *redis.PubSub
}

// LogEvent is the payload published on every ingested record and
// delivered to subscribers as the log:new SSE event.
type LogEvent struct {
	CallerID  string `json:"caller_id"`
	Endpoint  string `json:"endpoint"`
	Method    string `json:"method"`
	Status    int    `json:"status"`
	ElapsedMs int    `json:"elapsed_ms"`
	Timestamp string `json:"timestamp"`
}

// Fanout owns the publish/subscribe lifecycle and the registry of live
// subscribers.
type Fanout struct {
	kv     KV
	logger *slog.Logger

	mu          sync.RWMutex
	allClients  map[*Subscriber]struct{}
	byCaller    map[string]map[*Subscriber]struct{}
}

// New builds a fan-out. Call Run to start the subscribe-side loop.
func New(kv KV, logger *slog.Logger) *Fanout {
	return &Fanout{
		kv:         kv,
		logger:     logger,
		allClients: make(map[*Subscriber]struct{}),
		byCaller:   make(map[string]map[*Subscriber]struct{}),
	}
}

// Publish constructs an event and fire-and-forgets it to the log channel.
// Errors are logged, never propagated — ingestion must never block on
// fan-out.
func (f *Fanout) Publish(callerID, endpoint, method string, status, elapsedMs int) {
	event := LogEvent{
		CallerID:  callerID,
		Endpoint:  endpoint,
		Method:    method,
		Status:    status,
		ElapsedMs: elapsedMs,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		f.logger.Warn("marshaling log event failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := f.kv.Publish(ctx, logChannel, string(payload)); err != nil {
		f.logger.Warn("publishing log event failed", "error", err)
		return
	}
	telemetry.FanoutPublishedTotal.Inc()
}

// Run subscribes to the log channel via a dedicated connection and
// dispatches every received message to live subscribers and the
// caller-specific room. Blocks until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) {
	pubsub := f.kv.Subscribe(ctx, logChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			f.dispatch(msg.Payload)
		}
	}
}

func (f *Fanout) dispatch(payload string) {
	var event LogEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		f.logger.Warn("deserializing log event failed", "error", err)
		return
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for sub := range f.allClients {
		if sub.wantsChannel("logs") {
			sub.deliver("log:new", event)
		}
	}
	for sub := range f.byCaller[event.CallerID] {
		if sub.wantsChannel("logs") {
			sub.deliver("log:new", event)
		}
	}
}

// Join registers sub as a live subscriber, joined to all-clients and its
// caller-specific room.
func (f *Fanout) Join(sub *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.allClients[sub] = struct{}{}
	if f.byCaller[sub.callerID] == nil {
		f.byCaller[sub.callerID] = make(map[*Subscriber]struct{})
	}
	f.byCaller[sub.callerID][sub] = struct{}{}
	telemetry.FanoutSubscribersGauge.Set(float64(len(f.allClients)))
}

// Leave releases every membership held by sub.
func (f *Fanout) Leave(sub *Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.allClients, sub)
	if room, ok := f.byCaller[sub.callerID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(f.byCaller, sub.callerID)
		}
	}
	telemetry.FanoutSubscribersGauge.Set(float64(len(f.allClients)))
}
