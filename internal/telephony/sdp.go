package telephony

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/pion/sdp/v3"
)

// Media directions used in offers. Hold is signaled with sendonly.
const (
	mediaSendRecv = "sendrecv"
	mediaSendOnly = "sendonly"
)

// buildSDP renders a single audio m-line offering PCMU, PCMA and RFC 4733 events.
func buildSDP(version uint64, ip string, port int, direction string) ([]byte, error) {
	sessionID := uint64(time.Now().UnixNano())
	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      sessionID,
			SessionVersion: version,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: ip,
		},
		SessionName: "softphone",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: ip},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{{
			MediaName: sdp.MediaName{
				Media:   "audio",
				Port:    sdp.RangedPort{Value: port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{"0", "8", "101"},
			},
			Attributes: []sdp.Attribute{
				{Key: "rtpmap", Value: "0 PCMU/8000"},
				{Key: "rtpmap", Value: "8 PCMA/8000"},
				{Key: "rtpmap", Value: "101 telephone-event/8000"},
				{Key: "fmtp", Value: "101 0-16"},
				{Key: "ptime", Value: "20"},
				sdp.NewPropertyAttribute(direction),
			},
		}},
	}
	return sd.Marshal()
}

// remoteAudio extracts the far end's RTP address from an SDP body.
func remoteAudio(body []byte) (*net.UDPAddr, error) {
	if len(body) == 0 {
		return nil, errors.New("telephony: empty sdp")
	}
	var sd sdp.SessionDescription
	if err := sd.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("telephony: parse sdp: %w", err)
	}

	host := ""
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		host = sd.ConnectionInformation.Address.Address
	}
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "audio" {
			continue
		}
		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			host = md.ConnectionInformation.Address.Address
		}
		if host == "" {
			return nil, errors.New("telephony: sdp has no connection address")
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("telephony: sdp connection address %q is not an ip", host)
		}
		return &net.UDPAddr{IP: ip, Port: md.MediaName.Port.Value}, nil
	}
	return nil, errors.New("telephony: sdp has no audio stream")
}
