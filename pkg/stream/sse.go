package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	heartbeatInterval = 30 * time.Second
	pushInterval      = 10 * time.Second
)

// Subscriber is one long-lived SSE connection, joined to all-clients and
// its caller-specific room for the lifetime of the stream.
type Subscriber struct {
	callerID string
	w        http.ResponseWriter
	flusher  http.Flusher

	mu       sync.Mutex
	channels map[string]struct{}

	writeMu sync.Mutex // serializes frames written to w
}

func newSubscriber(callerID string, w http.ResponseWriter, flusher http.Flusher, initial string) *Subscriber {
	s := &Subscriber{callerID: callerID, w: w, flusher: flusher, channels: make(map[string]struct{})}
	s.subscribe(initial)
	return s
}

func (s *Subscriber) subscribe(channel string) {
	if channel == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channel] = struct{}{}
}

func (s *Subscriber) unsubscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channel)
}

func (s *Subscriber) wantsChannel(channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels["all"]; ok {
		return true
	}
	_, ok := s.channels[channel]
	return ok
}

// deliver writes an SSE event frame. Safe for concurrent use: the fan-out's
// dispatch loop and the stream handler's own timers both write to the same
// connection, and the http.ResponseWriter is not thread-safe, so every
// frame is written under writeMu.
func (s *Subscriber) deliver(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

func (s *Subscriber) heartbeat() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	fmt.Fprintf(s.w, ": heartbeat %d\n\n", time.Now().UnixMilli())
	s.flusher.Flush()
}
