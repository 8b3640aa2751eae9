package telephony

import (
	"fmt"
	"time"
)

// EventKind is the closed vocabulary a Transport emits, for itself and for its sessions.
type EventKind int

const (
	// Transport-level.
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventRegistered
	EventRegistrationFailed
	EventUnregistered
	EventRegistrationExpiring
	EventNewSession

	// Session-level.
	EventProgress
	EventAccepted
	EventConfirmed
	EventFailed
	EventEnded
	EventHold
	EventUnhold
	EventTrack
	EventSDP
	EventICECandidate
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventRegistered:
		return "registered"
	case EventRegistrationFailed:
		return "registrationFailed"
	case EventUnregistered:
		return "unregistered"
	case EventRegistrationExpiring:
		return "registrationExpiring"
	case EventNewSession:
		return "newSession"
	case EventProgress:
		return "progress"
	case EventAccepted:
		return "accepted"
	case EventConfirmed:
		return "confirmed"
	case EventFailed:
		return "failed"
	case EventEnded:
		return "ended"
	case EventHold:
		return "hold"
	case EventUnhold:
		return "unhold"
	case EventTrack:
		return "track"
	case EventSDP:
		return "sdp"
	case EventICECandidate:
		return "icecandidate"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// IsSessionEvent reports whether the event belongs to a Call Session.
func (k EventKind) IsSessionEvent() bool {
	return k >= EventProgress
}

// Originator says which side caused an event.
type Originator string

const (
	OriginatorLocal  Originator = "local"
	OriginatorRemote Originator = "remote"
	OriginatorSystem Originator = "system"
)

// Event is one transport or session occurrence. Session is set for EventNewSession
// and every session-level kind; Cause for failures and ends; Track for EventTrack.
type Event struct {
	Kind       EventKind
	Session    Session
	Originator Originator
	Cause      string
	Track      MediaTrack
	At         time.Time
}
