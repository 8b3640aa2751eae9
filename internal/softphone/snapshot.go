package softphone

import (
	"softphone/internal/calls"
	"softphone/internal/health"
)

// Snapshot is the read-only presentation state.
type Snapshot struct {
	CallAlert    calls.CallAlert          `json:"callAlert"`
	Health       health.ConnectionHealth  `json:"health"`
	HealthStatus health.Status            `json:"healthStatus"`
	HealthLabel  string                   `json:"healthLabel"`
	Ready        bool                     `json:"ready"`
	Registration health.RegistrationState `json:"registration"`
	Extension    string                   `json:"extension,omitempty"`

	// Duration is MM:SS while connected, empty otherwise.
	Duration string `json:"duration"`
	Muted    bool   `json:"muted"`

	LastCall    *calls.CallAlert `json:"lastCall,omitempty"`
	Interrupted *calls.CallAlert `json:"interruptedCall,omitempty"`
}

func (e *Engine) buildSnapshot() *Snapshot {
	status := health.Classify(e.health)
	s := &Snapshot{
		CallAlert:    e.alert,
		Health:       e.health,
		HealthStatus: status,
		HealthLabel:  status.Label(),
		Ready:        e.health.Ready(),
		Registration: e.registration,
		Extension:    e.account.Extension,
		Duration:     e.duration,
		Muted:        e.muted,
	}
	if e.lastCall != nil {
		c := *e.lastCall
		s.LastCall = &c
	}
	if e.interrupted != nil {
		c := *e.interrupted
		s.Interrupted = &c
	}
	return s
}

func (e *Engine) publish() {
	s := e.buildSnapshot()
	e.snap.Store(s)
	e.notifier.PublishState(*s)
}
