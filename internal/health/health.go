package health

// ConnectionHealth is the process-wide connection picture the classifier reads.
type ConnectionHealth struct {
	CredentialsPresent bool `json:"credentialsPresent"`
	TransportConnected bool `json:"transportConnected"`
	Registered         bool `json:"registered"`
}

// Ready reports whether call origination is permitted.
func (h ConnectionHealth) Ready() bool {
	return h.CredentialsPresent && h.TransportConnected && h.Registered
}

// Status is the presentation-level connection status.
type Status string

const (
	StatusNoCredentials      Status = "no_credentials"
	StatusServerDisconnected Status = "server_disconnected"
	StatusNotRegistered      Status = "not_registered"
	StatusReady              Status = "ready"
)

// Classify maps the three health inputs to one status, most severe first.
func Classify(h ConnectionHealth) Status {
	switch {
	case !h.CredentialsPresent:
		return StatusNoCredentials
	case !h.TransportConnected:
		return StatusServerDisconnected
	case !h.Registered:
		return StatusNotRegistered
	default:
		return StatusReady
	}
}

// Label is the human-readable text for s.
func (s Status) Label() string {
	switch s {
	case StatusNoCredentials:
		return "SIP credentials not configured"
	case StatusServerDisconnected:
		return "Server disconnected"
	case StatusNotRegistered:
		return "Not registered"
	case StatusReady:
		return "Ready"
	default:
		return string(s)
	}
}

// RegistrationState tracks the transport connection independently of call state.
type RegistrationState string

const (
	RegistrationDisconnected  RegistrationState = "disconnected"
	RegistrationConnecting    RegistrationState = "connecting"
	RegistrationConnected     RegistrationState = "connected"
	RegistrationRegistered    RegistrationState = "registered"
	RegistrationFailed        RegistrationState = "registration_failed"
	RegistrationUnregistering RegistrationState = "unregistering"
)
