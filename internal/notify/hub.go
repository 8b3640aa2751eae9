// Package notify fans presentation events (state snapshots, user notices, ringtone)
// out to live subscribers such as websocket clients.
package notify

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type MessageType string

const (
	TypeState        MessageType = "state"
	TypeNotification MessageType = "notification"
	TypeRingtone     MessageType = "ringtone"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

const subscriberBuffer = 32

// Hub is an in-process broadcaster. Slow subscribers miss messages rather than block publishers.
type Hub struct {
	mu        sync.Mutex
	listeners []chan Message
	lastState *Message
	recent    []Notification
	now       func() time.Time
}

func NewHub() *Hub {
	return &Hub{now: time.Now}
}

// Subscribe returns a channel receiving every message published from now on.
// The latest state message, if any, is delivered first.
func (h *Hub) Subscribe() <-chan Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Message, subscriberBuffer)
	if h.lastState != nil {
		ch <- *h.lastState
	}
	h.listeners = append(h.listeners, ch)
	return ch
}

func (h *Hub) Unsubscribe(ch <-chan Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, listener := range h.listeners {
		if listener == ch {
			close(listener)
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			return
		}
	}
}

func (h *Hub) Publish(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.Type == TypeState {
		m := msg
		h.lastState = &m
	}
	for _, listener := range h.listeners {
		select {
		case listener <- msg:
		default:
		}
	}
}

func (h *Hub) PublishState(state any) {
	h.Publish(Message{Type: TypeState, Data: state})
}

// Notify publishes a user-visible notice and keeps it in the recent list.
func (h *Hub) Notify(level Level, message string) {
	n := Notification{Level: level, Message: message, At: h.now()}

	h.mu.Lock()
	h.recent = append(h.recent, n)
	if len(h.recent) > 20 {
		h.recent = h.recent[len(h.recent)-20:]
	}
	h.mu.Unlock()

	h.Publish(Message{Type: TypeNotification, Data: n})
}

// Recent returns the last notifications, oldest first.
func (h *Hub) Recent() []Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Notification, len(h.recent))
	copy(out, h.recent)
	return out
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, listener := range h.listeners {
		close(listener)
	}
	h.listeners = nil
}
