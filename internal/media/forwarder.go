// Package media routes a call's inbound audio to the local audio output.
package media

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"softphone/internal/telephony"
)

var ErrClosed = errors.New("media: forwarder closed")

// RTPForwarder is the single audio sink. At most one track is bound at a time;
// attaching a new one releases the previous binding.
//
// Packets are re-sent as-is to Addr over UDP. With no Addr they are read and dropped,
// which keeps the remote leg drained.
type RTPForwarder struct {
	log  *slog.Logger
	conn net.Conn

	mu      sync.Mutex
	current *binding
	closed  bool

	forwarded atomic.Uint64
}

type binding struct {
	track telephony.MediaTrack
	done  chan struct{}
}

func NewRTPForwarder(addr string, log *slog.Logger) (*RTPForwarder, error) {
	if log == nil {
		log = slog.Default()
	}
	f := &RTPForwarder{log: log.With("component", "media")}
	if addr != "" {
		conn, err := net.Dial("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("media: dial audio sink %s: %w", addr, err)
		}
		f.conn = conn
	}
	return f, nil
}

// Attach starts forwarding track. It returns once the binding is in place.
func (f *RTPForwarder) Attach(track telephony.MediaTrack) error {
	if track == nil {
		return errors.New("media: nil track")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	prev := f.current
	if prev != nil && prev.track == track {
		f.mu.Unlock()
		return nil
	}
	b := &binding{track: track, done: make(chan struct{})}
	f.current = b
	f.mu.Unlock()

	if prev != nil {
		f.release(prev)
	}
	go f.forward(b)
	return nil
}

// Detach releases the bound track, if any. Safe to call with nothing bound.
func (f *RTPForwarder) Detach() {
	f.mu.Lock()
	b := f.current
	f.current = nil
	f.mu.Unlock()
	if b != nil {
		f.release(b)
	}
}

// Bound reports whether a track is currently attached.
func (f *RTPForwarder) Bound() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current != nil
}

// Forwarded is the number of packets read from bound tracks.
func (f *RTPForwarder) Forwarded() uint64 { return f.forwarded.Load() }

func (f *RTPForwarder) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.Detach()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *RTPForwarder) release(b *binding) {
	if err := b.track.Close(); err != nil {
		f.log.Warn("track close failed", "err", err)
	}
	<-b.done
}

func (f *RTPForwarder) forward(b *binding) {
	defer close(b.done)
	for {
		pkt, err := b.track.ReadRTP()
		if err != nil {
			return
		}
		f.forwarded.Add(1)
		if f.conn == nil {
			continue
		}
		raw, err := pkt.Marshal()
		if err != nil {
			f.log.Warn("rtp marshal failed", "err", err)
			continue
		}
		if _, err := f.conn.Write(raw); err != nil {
			f.log.Warn("audio sink write failed", "err", err)
		}
	}
}
