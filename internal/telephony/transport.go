package telephony

import (
	"context"
	"time"

	"github.com/pion/rtp"
)

// Transport is the connection to the signaling server. It owns reconnection;
// callers only observe the resulting events.
type Transport interface {
	Start(ctx context.Context) error
	// Stop unregisters and releases the connection. Safe to call more than once.
	Stop(ctx context.Context) error
	Events() <-chan Event
	// Call starts an outbound session. Its lifecycle is reported through Events.
	Call(ctx context.Context, target string) (Session, error)
}

// Config is what a Transport is constructed with.
type Config struct {
	// Endpoint is the signaling server URI, e.g. sip:pbx.example.com:5060.
	Endpoint string
	// Address is the local address of record, e.g. sip:1001@pbx.example.com.
	Address           string
	AuthorizationUser string
	Secret            string
	DisplayName       string
	RegisterExpires   time.Duration

	Network    string // udp or tcp
	ListenAddr string
	RTPAddr    string
	UserAgent  string
}

// Factory builds a Transport for one set of credentials.
type Factory func(cfg Config) (Transport, error)

// Direction of a session, fixed at creation.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Identity is the far end of a session.
type Identity struct {
	User        string
	DisplayName string
}

// Session is one negotiated call attempt, from creation to terminal event.
type Session interface {
	// ID is the transport-internal identifier, always set.
	ID() string
	// CallID is the signaling Call-ID, empty until the request is built.
	CallID() string
	// Header returns the first value of a signaling header on the initial request.
	Header(name string) string
	Direction() Direction
	RemoteIdentity() Identity

	Answer(ctx context.Context) error
	// Terminate hangs up, cancels or declines depending on the session's progress.
	Terminate(ctx context.Context) error
	// Reject declines an unanswered incoming session with the given SIP status.
	Reject(ctx context.Context, code int, reason string) error
	Mute() error
	Unmute() error
	Hold(ctx context.Context) error
	Unhold(ctx context.Context) error
	Refer(ctx context.Context, target string) error

	// RemoteTrack is the inbound media track, once the transport has surfaced one.
	RemoteTrack() (MediaTrack, bool)
}

// MediaTrack is an inbound RTP stream.
type MediaTrack interface {
	ReadRTP() (*rtp.Packet, error)
	Close() error
}
