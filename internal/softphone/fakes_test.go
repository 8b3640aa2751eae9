package softphone

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"softphone/internal/account"
	"softphone/internal/livecall"
	"softphone/internal/notify"
	"softphone/internal/telephony"
)

type fakeSession struct {
	id        string
	callID    string
	headers   map[string]string
	direction telephony.Direction
	remote    telephony.Identity

	mu       sync.Mutex
	ops      []string
	failHold bool
	track    telephony.MediaTrack
}

func (s *fakeSession) ID() string     { return s.id }
func (s *fakeSession) CallID() string { return s.callID }
func (s *fakeSession) Header(name string) string {
	return s.headers[name]
}
func (s *fakeSession) Direction() telephony.Direction     { return s.direction }
func (s *fakeSession) RemoteIdentity() telephony.Identity { return s.remote }

func (s *fakeSession) record(op string) {
	s.mu.Lock()
	s.ops = append(s.ops, op)
	s.mu.Unlock()
}

func (s *fakeSession) Ops() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeSession) Answer(context.Context) error    { s.record("answer"); return nil }
func (s *fakeSession) Terminate(context.Context) error { s.record("terminate"); return nil }
func (s *fakeSession) Reject(_ context.Context, code int, _ string) error {
	s.record(fmt.Sprintf("reject:%d", code))
	return nil
}
func (s *fakeSession) Mute() error   { s.record("mute"); return nil }
func (s *fakeSession) Unmute() error { s.record("unmute"); return nil }
func (s *fakeSession) Hold(context.Context) error {
	if s.failHold {
		return errors.New("re-invite rejected")
	}
	s.record("hold")
	return nil
}
func (s *fakeSession) Unhold(context.Context) error { s.record("unhold"); return nil }
func (s *fakeSession) Refer(_ context.Context, target string) error {
	s.record("refer:" + target)
	return nil
}
func (s *fakeSession) RemoteTrack() (telephony.MediaTrack, bool) {
	return s.track, s.track != nil
}

type fakeTransport struct {
	name   string
	events chan telephony.Event
	log    *callLog

	mu       sync.Mutex
	outbound []*fakeSession
	callErr  error
}

func (t *fakeTransport) Start(context.Context) error {
	t.log.add("start:" + t.name)
	return nil
}

func (t *fakeTransport) Stop(context.Context) error {
	t.log.add("stop:" + t.name)
	return nil
}

func (t *fakeTransport) Events() <-chan telephony.Event { return t.events }

func (t *fakeTransport) Call(_ context.Context, target string) (telephony.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.callErr != nil {
		return nil, t.callErr
	}
	s := &fakeSession{
		id:        fmt.Sprintf("out-%d", len(t.outbound)+1),
		callID:    fmt.Sprintf("call-%d@pbx", len(t.outbound)+1),
		direction: telephony.DirectionOutgoing,
		remote:    telephony.Identity{User: target},
	}
	t.outbound = append(t.outbound, s)
	return s, nil
}

func (t *fakeTransport) lastOutbound() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.outbound) == 0 {
		return nil
	}
	return t.outbound[len(t.outbound)-1]
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type fakeNotifier struct {
	mu     sync.Mutex
	notes  []string
	states int
}

func (n *fakeNotifier) Notify(level notify.Level, message string) {
	n.mu.Lock()
	n.notes = append(n.notes, string(level)+":"+message)
	n.mu.Unlock()
}

func (n *fakeNotifier) PublishState(any) {
	n.mu.Lock()
	n.states++
	n.mu.Unlock()
}

func (n *fakeNotifier) matching(sub string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, note := range n.notes {
		if strings.Contains(note, sub) {
			out = append(out, note)
		}
	}
	return out
}

type fakeRinger struct {
	mu      sync.Mutex
	playing bool
	starts  int
	stops   int
}

func (r *fakeRinger) Start() {
	r.mu.Lock()
	r.playing = true
	r.starts++
	r.mu.Unlock()
}

func (r *fakeRinger) Stop() {
	r.mu.Lock()
	r.playing = false
	r.stops++
	r.mu.Unlock()
}

func (r *fakeRinger) Playing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

type fakeAudio struct {
	mu       sync.Mutex
	bound    telephony.MediaTrack
	attaches int
}

func (a *fakeAudio) Attach(track telephony.MediaTrack) error {
	a.mu.Lock()
	a.bound = track
	a.attaches++
	a.mu.Unlock()
	return nil
}

func (a *fakeAudio) Detach() {
	a.mu.Lock()
	a.bound = nil
	a.mu.Unlock()
}

func (a *fakeAudio) Bound() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bound != nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testAccount = account.Account{Extension: "1001", Host: "pbx.example.com", Secret: "s3cret", Port: 5060}

type harness struct {
	t          *testing.T
	engine     *Engine
	repo       *livecall.MemoryRepo
	notifier   *fakeNotifier
	ringer     *fakeRinger
	audio      *fakeAudio
	clock      *fakeClock
	log        *callLog
	transports []*fakeTransport
	cancel     context.CancelFunc
}

type harnessOption func(*Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		repo:     livecall.NewMemoryRepo(),
		notifier: &fakeNotifier{},
		ringer:   &fakeRinger{},
		audio:    &fakeAudio{},
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		log:      &callLog{},
	}
	o := Options{
		Account: testAccount,
		Factory: func(cfg telephony.Config) (telephony.Transport, error) {
			tr := &fakeTransport{
				name:   cfg.AuthorizationUser,
				events: make(chan telephony.Event),
				log:    h.log,
			}
			h.transports = append(h.transports, tr)
			return tr, nil
		},
		Repo:     h.repo,
		Notifier: h.notifier,
		Ringer:   h.ringer,
		Audio:    h.audio,
		Now:      h.clock.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	e, err := New(o)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	h.engine = e

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	h.flush()
	return h
}

// flush waits until everything queued before it has been processed by the loop.
func (h *harness) flush() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.engine.do(ctx, func(context.Context) error { return nil }); err != nil {
		h.t.Fatalf("flush: %v", err)
	}
}

func (h *harness) transport() *fakeTransport {
	h.t.Helper()
	var tr *fakeTransport
	_ = h.engine.do(context.Background(), func(context.Context) error {
		if len(h.transports) > 0 {
			tr = h.transports[len(h.transports)-1]
		}
		return nil
	})
	if tr == nil {
		h.t.Fatalf("no transport created")
	}
	return tr
}

func (h *harness) send(ev telephony.Event) {
	h.t.Helper()
	tr := h.transport()
	select {
	case tr.events <- ev:
	case <-time.After(2 * time.Second):
		h.t.Fatalf("event %s not consumed", ev.Kind)
	}
	h.flush()
}

func (h *harness) ready() {
	h.send(telephony.Event{Kind: telephony.EventConnected})
	h.send(telephony.Event{Kind: telephony.EventRegistered})
	if !h.engine.Snapshot().Ready {
		h.t.Fatalf("expected ready")
	}
}

func (h *harness) incoming(id, from string) *fakeSession {
	s := &fakeSession{
		id:        id,
		direction: telephony.DirectionIncoming,
		remote:    telephony.Identity{User: from, DisplayName: "Caller " + from},
		headers:   map[string]string{},
	}
	h.send(telephony.Event{Kind: telephony.EventNewSession, Session: s, Originator: telephony.OriginatorRemote})
	return s
}
