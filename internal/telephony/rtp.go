package telephony

import (
	"fmt"
	"net"
	"sync"

	"github.com/pion/rtp"
)

// rtpLeg is the local UDP socket a session receives audio on. It is the session's MediaTrack.
type rtpLeg struct {
	conn *net.UDPConn

	closeOnce sync.Once
}

func listenRTP(addr string) (*rtpLeg, error) {
	if addr == "" {
		addr = ":0"
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("telephony: resolve rtp addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("telephony: listen rtp: %w", err)
	}
	return &rtpLeg{conn: conn}, nil
}

func (l *rtpLeg) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// ReadRTP blocks for the next packet. Non-RTP datagrams are skipped.
func (l *rtpLeg) ReadRTP() (*rtp.Packet, error) {
	buf := make([]byte, 1500)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		p := &rtp.Packet{}
		if err := p.Unmarshal(buf[:n]); err != nil {
			continue
		}
		return p, nil
	}
}

func (l *rtpLeg) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.conn.Close() })
	return err
}

// localIP picks the address the OS would use to reach target.
func localIP(target string) string {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
