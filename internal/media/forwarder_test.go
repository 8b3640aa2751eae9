package media

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
)

type chanTrack struct {
	packets chan *rtp.Packet
	once    sync.Once
	closed  chan struct{}
}

func newChanTrack() *chanTrack {
	return &chanTrack{packets: make(chan *rtp.Packet, 8), closed: make(chan struct{})}
}

func (c *chanTrack) ReadRTP() (*rtp.Packet, error) {
	select {
	case p := <-c.packets:
		return p, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *chanTrack) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *chanTrack) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func TestForwarderSendsToSink(t *testing.T) {
	sink, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer sink.Close()

	f, err := NewRTPForwarder(sink.LocalAddr().String(), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer f.Close()

	track := newChanTrack()
	if err := f.Attach(track); err != nil {
		t.Fatalf("attach: %v", err)
	}
	track.packets <- &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: 11, SSRC: 9}, Payload: []byte{1, 2}}

	_ = sink.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1500)
	n, _, err := sink.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got rtp.Packet
	if err := got.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.SequenceNumber != 11 {
		t.Fatalf("expected seq 11, got %d", got.SequenceNumber)
	}
}

func TestForwarderSingleBinding(t *testing.T) {
	f, err := NewRTPForwarder("", nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	first, second := newChanTrack(), newChanTrack()
	if err := f.Attach(first); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := f.Attach(second); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !first.isClosed() {
		t.Fatalf("expected previous track released")
	}
	if !f.Bound() {
		t.Fatalf("expected bound")
	}

	f.Detach()
	if !second.isClosed() || f.Bound() {
		t.Fatalf("expected detach to release track")
	}
	f.Detach()

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := f.Attach(newChanTrack()); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestForwarderDrainsWithoutSink(t *testing.T) {
	f, _ := NewRTPForwarder("", nil)
	track := newChanTrack()
	_ = f.Attach(track)
	track.packets <- &rtp.Packet{Header: rtp.Header{Version: 2}}

	deadline := time.Now().Add(2 * time.Second)
	for f.Forwarded() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if f.Forwarded() != 1 {
		t.Fatalf("expected 1 packet drained, got %d", f.Forwarded())
	}
	f.Detach()
}
