package notify

import (
	"strings"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return m
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubDeliversAndReplaysState(t *testing.T) {
	h := NewHub()
	h.PublishState(map[string]string{"status": "ready"})

	ch := h.Subscribe()
	if m := recv(t, ch); m.Type != TypeState {
		t.Fatalf("expected replayed state, got %q", m.Type)
	}

	h.Notify(LevelError, "Call failed: BUSY")
	m := recv(t, ch)
	if m.Type != TypeNotification {
		t.Fatalf("expected notification, got %q", m.Type)
	}
	raw, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"Call failed: BUSY"`) {
		t.Fatalf("unexpected encoding %s", raw)
	}

	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	for i := 0; i < subscriberBuffer+5; i++ {
		h.Notify(LevelInfo, "x")
	}
	if len(ch) != subscriberBuffer {
		t.Fatalf("expected buffer full at %d, got %d", subscriberBuffer, len(ch))
	}
	if got := len(h.Recent()); got != 20 {
		t.Fatalf("expected 20 recent, got %d", got)
	}
}

func TestRingtoneIdempotent(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe()
	r := NewRingtone(h)

	r.Stop()
	r.Start()
	r.Start()
	r.Stop()
	r.Stop()

	if len(ch) != 2 {
		t.Fatalf("expected 2 ringtone messages, got %d", len(ch))
	}
	if m := recv(t, ch); m.Data.(ringtoneState).Playing != true {
		t.Fatalf("expected start first")
	}
	if r.Playing() {
		t.Fatalf("expected stopped")
	}
}
