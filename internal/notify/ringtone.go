package notify

import "sync"

// Ringtone signals subscribers to start or stop the ringing sound.
// Repeated Start or Stop calls publish nothing.
type Ringtone struct {
	hub *Hub

	mu      sync.Mutex
	playing bool
}

type ringtoneState struct {
	Playing bool `json:"playing"`
}

func NewRingtone(hub *Hub) *Ringtone {
	return &Ringtone{hub: hub}
}

func (r *Ringtone) Start() {
	r.set(true)
}

func (r *Ringtone) Stop() {
	r.set(false)
}

func (r *Ringtone) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

func (r *Ringtone) set(playing bool) {
	r.mu.Lock()
	changed := r.playing != playing
	r.playing = playing
	r.mu.Unlock()
	if changed {
		r.hub.Publish(Message{Type: TypeRingtone, Data: ringtoneState{Playing: playing}})
	}
}
