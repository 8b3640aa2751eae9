package calls

import (
	"fmt"
	"time"
)

// CallAlert is the single presentation record of "the call the user currently sees".
//
// Invariant: at most one non-empty CallAlert exists at a time. The zero value means idle.
//
// SessionID correlates to the protocol-level call identifier and is only used for
// reconciliation against the persisted live-call record, never as a lookup key.
type CallAlert struct {
	SessionID   string    `json:"sessionId,omitempty"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	UserName    string    `json:"userName,omitempty"`
	Direction   Direction `json:"direction,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Cause       string    `json:"cause,omitempty"`
	HangupBy    string    `json:"hangupBy,omitempty"`
	IsHold      bool      `json:"isHold"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// IsEmpty reports whether the alert describes no call.
func (a CallAlert) IsEmpty() bool {
	return a.Status == "" && a.SessionID == "" && a.PhoneNumber == ""
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type Status string

const (
	StatusDialing     Status = "dialing"
	StatusRinging     Status = "ringing"
	StatusConnected   Status = "connected"
	StatusAccepted    Status = "call_accepted"
	StatusEnded       Status = "call_ended"
	StatusFailed      Status = "call_failed"
	StatusTransferred Status = "call_transferred"
)

// IsTerminal reports whether no further transitions leave this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusEnded, StatusFailed, StatusTransferred:
		return true
	default:
		return false
	}
}

// Termination causes reported on CallAlert.Cause.
const (
	CauseNoAnswer       = "NO_ANSWER"
	CauseAnswer         = "ANSWER"
	CauseBusy           = "BUSY"
	CauseRejected       = "REJECTED"
	CauseCanceled       = "CANCELED"
	CauseNotFound       = "NOT_FOUND"
	CauseUnavailable    = "UNAVAILABLE"
	CauseRequestTimeout = "REQUEST_TIMEOUT"
	CauseAuthentication = "AUTHENTICATION_ERROR"
	CauseConnection     = "CONNECTION_ERROR"
	CauseSIPFailure     = "SIP_FAILURE_CODE"
	CauseBye            = "BYE"
)

// FormatDuration renders d as zero-padded minutes:seconds. Minutes keep growing past 59.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
