package stream

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
)

func newTestFanout() *Fanout {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(nil, logger)
}

func TestFanout_JoinLeaveMembership(t *testing.T) {
	f := newTestFanout()
	rec := httptest.NewRecorder()
	sub := newSubscriber("CL-AAAAAAAAAAAA", rec, rec, "logs")

	f.Join(sub)

	f.mu.RLock()
	_, inAll := f.allClients[sub]
	_, inRoom := f.byCaller["CL-AAAAAAAAAAAA"][sub]
	f.mu.RUnlock()

	if !inAll {
		t.Error("Join() did not add subscriber to allClients")
	}
	if !inRoom {
		t.Error("Join() did not add subscriber to its caller room")
	}

	f.Leave(sub)

	f.mu.RLock()
	_, stillInAll := f.allClients[sub]
	_, roomExists := f.byCaller["CL-AAAAAAAAAAAA"]
	f.mu.RUnlock()

	if stillInAll {
		t.Error("Leave() did not remove subscriber from allClients")
	}
	if roomExists {
		t.Error("Leave() did not clean up the now-empty caller room")
	}
}

func TestFanout_DispatchDeliversToSubscribedClients(t *testing.T) {
	f := newTestFanout()
	rec := httptest.NewRecorder()
	sub := newSubscriber("CL-AAAAAAAAAAAA", rec, rec, "logs")
	f.Join(sub)

	payload := `{"caller_id":"CL-AAAAAAAAAAAA","endpoint":"/api/logs","method":"POST","status":200,"elapsed_ms":5,"timestamp":"2026-07-31T00:00:00Z"}`
	f.dispatch(payload)

	if rec.Body.Len() == 0 {
		t.Error("dispatch() did not deliver to a subscriber wanting the logs channel")
	}
}

func TestFanout_DispatchSkipsUnsubscribedClients(t *testing.T) {
	f := newTestFanout()
	rec := httptest.NewRecorder()
	sub := newSubscriber("CL-AAAAAAAAAAAA", rec, rec, "")
	f.Join(sub)

	payload := `{"caller_id":"CL-AAAAAAAAAAAA","endpoint":"/api/logs","method":"POST","status":200,"elapsed_ms":5,"timestamp":"2026-07-31T00:00:00Z"}`
	f.dispatch(payload)

	if rec.Body.Len() != 0 {
		t.Error("dispatch() delivered to a subscriber not subscribed to any channel")
	}
}

func TestFanout_DispatchIgnoresOtherCallersRoom(t *testing.T) {
	f := newTestFanout()
	rec := httptest.NewRecorder()
	sub := newSubscriber("CL-BBBBBBBBBBBB", rec, rec, "logs")
	f.Join(sub)

	// remove from allClients so only the caller room membership is exercised
	f.mu.Lock()
	delete(f.allClients, sub)
	f.mu.Unlock()

	payload := `{"caller_id":"CL-AAAAAAAAAAAA","endpoint":"/api/logs","method":"POST","status":200,"elapsed_ms":5,"timestamp":"2026-07-31T00:00:00Z"}`
	f.dispatch(payload)

	if rec.Body.Len() != 0 {
		t.Error("dispatch() delivered an event for a different caller's room")
	}
}

func TestFanout_DispatchInvalidPayloadIsIgnored(t *testing.T) {
	f := newTestFanout()
	rec := httptest.NewRecorder()
	sub := newSubscriber("CL-AAAAAAAAAAAA", rec, rec, "logs")
	f.Join(sub)

	f.dispatch("not json")

	if rec.Body.Len() != 0 {
		t.Error("dispatch() delivered something for an invalid payload")
	}
}
