package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"softphone/internal/calls"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

const (
	defaultRegisterExpires = 600 * time.Second
	minRegisterBackoff     = time.Second
	maxRegisterBackoff     = time.Minute
)

// SIPTransport is a Transport over plain SIP (UDP or TCP) built on sipgo.
//
// It keeps one REGISTER binding alive, accepts inbound INVITEs and places outbound ones.
// Reconnection is owned here: failed registrations are retried with backoff and reported
// as events, never as errors to the caller.
type SIPTransport struct {
	cfg Config
	log *slog.Logger

	events  chan Event
	pending []Event
	wake    chan struct{}

	endpoint sip.Uri
	aor      sip.Uri

	ua        *sipgo.UserAgent
	client    *sipgo.Client
	server    *sipgo.Server
	dialogCli *sipgo.DialogClientCache
	dialogSrv *sipgo.DialogServerCache
	contact   sip.ContactHeader

	regCallID string
	regSeq    uint32

	mu        sync.Mutex
	sessions  map[string]*sipSession
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}
	stopOnce  sync.Once
}

// NewSIPFactory returns a Factory producing SIPTransports that log to log.
func NewSIPFactory(log *slog.Logger) Factory {
	return func(cfg Config) (Transport, error) {
		return NewSIPTransport(cfg, log)
	}
}

func NewSIPTransport(cfg Config, log *slog.Logger) (*SIPTransport, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RegisterExpires <= 0 {
		cfg.RegisterExpires = defaultRegisterExpires
	}
	if cfg.Network == "" {
		cfg.Network = "udp"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "0.0.0.0:5060"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "softphone"
	}

	t := &SIPTransport{
		cfg:       cfg,
		log:       log.With("component", "sip"),
		events:    make(chan Event, 64),
		wake:      make(chan struct{}, 1),
		sessions:  make(map[string]*sipSession),
		done:      make(chan struct{}),
		regCallID: uuid.NewString(),
	}
	if err := sip.ParseUri(cfg.Endpoint, &t.endpoint); err != nil {
		return nil, fmt.Errorf("telephony: parse endpoint %q: %w", cfg.Endpoint, err)
	}
	if err := sip.ParseUri(cfg.Address, &t.aor); err != nil {
		return nil, fmt.Errorf("telephony: parse address %q: %w", cfg.Address, err)
	}
	go t.pump()
	return t, nil
}

func (t *SIPTransport) Events() <-chan Event { return t.events }

func (t *SIPTransport) Start(ctx context.Context) error {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(t.cfg.UserAgent))
	if err != nil {
		return fmt.Errorf("telephony: create user agent: %w", err)
	}

	host, portStr, err := net.SplitHostPort(t.cfg.ListenAddr)
	if err != nil {
		_ = ua.Close()
		return fmt.Errorf("telephony: listen addr %q: %w", t.cfg.ListenAddr, err)
	}
	port, _ := strconv.Atoi(portStr)
	if host == "" || host == "0.0.0.0" {
		host = localIP(net.JoinHostPort(t.endpoint.Host, strconv.Itoa(t.endpointPort())))
	}

	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(host))
	if err != nil {
		_ = ua.Close()
		return fmt.Errorf("telephony: create client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return fmt.Errorf("telephony: create server: %w", err)
	}

	t.ua, t.client, t.server = ua, client, server
	t.contact = sip.ContactHeader{
		DisplayName: t.cfg.DisplayName,
		Address:     sip.Uri{User: t.aor.User, Host: host, Port: port},
	}
	t.dialogCli = sipgo.NewDialogClientCache(client, t.contact)
	t.dialogSrv = sipgo.NewDialogServerCache(client, t.contact)

	server.OnInvite(t.onInvite)
	server.OnAck(t.onAck)
	server.OnBye(t.onBye)

	runCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go func() {
		if err := server.ListenAndServe(runCtx, t.cfg.Network, t.cfg.ListenAddr); err != nil && runCtx.Err() == nil {
			t.log.Error("sip listener stopped", "addr", t.cfg.ListenAddr, "err", err)
			t.setConnected(false)
		}
	}()

	t.log.Info("sip transport starting", "endpoint", t.cfg.Endpoint, "aor", t.cfg.Address, "listen", t.cfg.ListenAddr)
	go t.registerLoop(runCtx)
	return nil
}

func (t *SIPTransport) Stop(ctx context.Context) error {
	var err error
	t.stopOnce.Do(func() {
		t.mu.Lock()
		cancel := t.cancel
		sessions := make([]*sipSession, 0, len(t.sessions))
		for _, s := range t.sessions {
			sessions = append(sessions, s)
		}
		wasConnected := t.connected
		t.mu.Unlock()

		for _, s := range sessions {
			_ = s.Terminate(ctx)
		}

		if t.client != nil && wasConnected {
			if _, uerr := t.register(ctx, 0); uerr != nil {
				t.log.Warn("unregister failed", "err", uerr)
			}
			t.emit(Event{Kind: EventUnregistered, Originator: OriginatorLocal})
		}

		if cancel != nil {
			cancel()
		}
		t.setConnected(false)
		close(t.done)
		if t.ua != nil {
			err = t.ua.Close()
		}
	})
	return err
}

func (t *SIPTransport) endpointPort() int {
	if t.endpoint.Port > 0 {
		return t.endpoint.Port
	}
	return 5060
}

// emit queues ev without blocking, so session methods may be called from the events consumer.
func (t *SIPTransport) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	t.mu.Lock()
	t.pending = append(t.pending, ev)
	t.mu.Unlock()
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *SIPTransport) pump() {
	for {
		select {
		case <-t.wake:
		case <-t.done:
			return
		}
		t.mu.Lock()
		batch := t.pending
		t.pending = nil
		t.mu.Unlock()
		for _, ev := range batch {
			select {
			case t.events <- ev:
			case <-t.done:
				return
			}
		}
	}
}

func (t *SIPTransport) setConnected(up bool) {
	t.mu.Lock()
	changed := t.connected != up
	t.connected = up
	t.mu.Unlock()
	if !changed {
		return
	}
	if up {
		t.emit(Event{Kind: EventConnected, Originator: OriginatorSystem})
	} else {
		t.emit(Event{Kind: EventDisconnected, Originator: OriginatorSystem})
	}
}

/* ===================== REGISTRATION ===================== */

func (t *SIPTransport) registerLoop(ctx context.Context) {
	backoff := minRegisterBackoff
	for {
		granted, err := t.register(ctx, t.cfg.RegisterExpires)
		if ctx.Err() != nil {
			return
		}

		var wait time.Duration
		if err != nil {
			t.log.Warn("registration failed", "err", err, "retry_in", backoff.String())
			var rerr *registerError
			if errors.As(err, &rerr) {
				t.emit(Event{Kind: EventRegistrationFailed, Originator: OriginatorRemote, Cause: rerr.cause})
			}
			wait = backoff
			backoff = min(backoff*2, maxRegisterBackoff)
		} else {
			t.emit(Event{Kind: EventRegistered, Originator: OriginatorRemote})
			backoff = minRegisterBackoff
			wait = refreshLead(granted)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err == nil {
			t.emit(Event{Kind: EventRegistrationExpiring, Originator: OriginatorSystem})
		}
	}
}

// refreshLead re-registers shortly before the binding expires.
func refreshLead(granted time.Duration) time.Duration {
	lead := min(granted/10, 30*time.Second)
	if lead < time.Second {
		lead = time.Second
	}
	if granted <= lead {
		return granted
	}
	return granted - lead
}

type registerError struct {
	status int
	cause  string
}

func (e *registerError) Error() string {
	return fmt.Sprintf("register rejected: %d %s", e.status, e.cause)
}

// register sends one REGISTER (expires 0 unregisters) and returns the granted expiry.
// Network failures flip the connection state; SIP rejections return *registerError.
func (t *SIPTransport) register(ctx context.Context, expires time.Duration) (time.Duration, error) {
	recipient := sip.Uri{Host: t.endpoint.Host, Port: t.endpoint.Port}
	req := sip.NewRequest(sip.REGISTER, recipient)

	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	from := &sip.FromHeader{DisplayName: t.cfg.DisplayName, Address: t.aor, Params: sip.NewParams()}
	from.Params.Add("tag", tag)
	req.AppendHeader(from)
	req.AppendHeader(&sip.ToHeader{Address: t.aor, Params: sip.NewParams()})
	callID := sip.CallIDHeader(t.regCallID)
	req.AppendHeader(&callID)

	t.mu.Lock()
	t.regSeq += 2
	seq := t.regSeq
	t.mu.Unlock()
	req.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.REGISTER})

	contact := t.contact
	req.AppendHeader(&contact)
	req.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := t.client.Do(reqCtx, req)
	if err != nil {
		t.setConnected(false)
		return 0, fmt.Errorf("telephony: register: %w", err)
	}
	t.setConnected(true)

	if res.StatusCode == 401 || res.StatusCode == 407 {
		res, err = t.client.DoDigestAuth(reqCtx, req, res, sipgo.DigestAuth{
			Username: t.cfg.AuthorizationUser,
			Password: t.cfg.Secret,
		})
		if err != nil {
			return 0, fmt.Errorf("telephony: register auth: %w", err)
		}
	}

	code := int(res.StatusCode)
	if code < 200 || code > 299 {
		return 0, &registerError{status: code, cause: causeFromStatus(code)}
	}

	granted := expires
	if h := res.GetHeader("Expires"); h != nil {
		if n, perr := strconv.Atoi(strings.TrimSpace(h.Value())); perr == nil && n > 0 {
			granted = time.Duration(n) * time.Second
		}
	}
	return granted, nil
}

/* ===================== OUTBOUND ===================== */

func (t *SIPTransport) Call(ctx context.Context, target string) (Session, error) {
	if t.dialogCli == nil {
		return nil, errors.New("telephony: transport not started")
	}
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("telephony: empty call target")
	}

	leg, err := listenRTP(t.cfg.RTPAddr)
	if err != nil {
		return nil, err
	}
	offer, err := buildSDP(1, t.contact.Address.Host, leg.Port(), mediaSendRecv)
	if err != nil {
		_ = leg.Close()
		return nil, err
	}

	recipient := sip.Uri{User: target, Host: t.endpoint.Host, Port: t.endpoint.Port}
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	from := &sip.FromHeader{DisplayName: t.cfg.DisplayName, Address: t.aor, Params: sip.NewParams()}
	from.Params.Add("tag", tag)

	dlg, err := t.dialogCli.Invite(ctx, recipient, offer,
		from,
		&sip.ToHeader{Address: recipient, Params: sip.NewParams()},
		sip.NewHeader("Content-Type", "application/sdp"),
	)
	if err != nil {
		_ = leg.Close()
		return nil, fmt.Errorf("telephony: invite %s: %w", target, err)
	}

	s := newSIPSession(t, DirectionOutgoing, Identity{User: target})
	s.cli = dlg
	s.invite = dlg.InviteRequest
	s.leg = leg
	if cid := dlg.InviteRequest.CallID(); cid != nil {
		s.callID = cid.Value()
	}
	t.track(s)

	waitCtx, cancel := context.WithCancel(context.Background())
	s.cancelWait = cancel
	go s.awaitAnswer(waitCtx)
	return s, nil
}

/* ===================== INBOUND ===================== */

func (t *SIPTransport) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	dlg, err := t.dialogSrv.ReadInvite(req, tx)
	if err != nil {
		t.log.Warn("invite rejected", "err", err)
		_ = tx.Respond(sip.NewResponseFromRequest(req, 400, "Bad Request", nil))
		return
	}

	remote := Identity{}
	if f := req.From(); f != nil {
		remote = Identity{User: f.Address.User, DisplayName: f.DisplayName}
	}
	s := newSIPSession(t, DirectionIncoming, remote)
	s.srv = dlg
	s.invite = req
	if cid := req.CallID(); cid != nil {
		s.callID = cid.Value()
	}
	t.track(s)

	// The transaction layer answers CANCEL with 487 and only closes Done after
	// the ACK and Timer I, so the caller giving up is reported from here.
	tx.OnCancel(func(*sip.Request) {
		t.log.Info("invite cancelled by caller", "call_id", s.callID)
		s.finish(EventFailed, OriginatorRemote, calls.CauseCanceled)
	})

	if err := dlg.Respond(180, "Ringing", nil); err != nil {
		t.log.Warn("ringing response failed", "call_id", s.callID, "err", err)
	}
	t.emit(Event{Kind: EventNewSession, Session: s, Originator: OriginatorRemote})

	// The transaction stays open until the session is answered or declined locally.
	select {
	case <-s.settled:
	case <-tx.Done():
		s.finish(EventFailed, OriginatorRemote, calls.CauseCanceled)
	}
}

func (t *SIPTransport) onAck(req *sip.Request, tx sip.ServerTransaction) {
	if err := t.dialogSrv.ReadAck(req, tx); err != nil {
		return
	}
	if s := t.lookup(req); s != nil {
		t.emit(Event{Kind: EventConfirmed, Session: s, Originator: OriginatorRemote})
	}
}

func (t *SIPTransport) onBye(req *sip.Request, tx sip.ServerTransaction) {
	err := t.dialogCli.ReadBye(req, tx)
	if errors.Is(err, sipgo.ErrDialogDoesNotExists) {
		err = t.dialogSrv.ReadBye(req, tx)
	}
	if err != nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	if s := t.lookup(req); s != nil {
		s.finish(EventEnded, OriginatorRemote, calls.CauseBye)
	}
}

func (t *SIPTransport) track(s *sipSession) {
	t.mu.Lock()
	t.sessions[s.callID] = s
	t.mu.Unlock()
}

func (t *SIPTransport) untrack(s *sipSession) {
	t.mu.Lock()
	if cur, ok := t.sessions[s.callID]; ok && cur == s {
		delete(t.sessions, s.callID)
	}
	t.mu.Unlock()
}

func (t *SIPTransport) lookup(req *sip.Request) *sipSession {
	cid := req.CallID()
	if cid == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[cid.Value()]
}

// causeFromStatus maps a final SIP status to a termination cause.
func causeFromStatus(code int) string {
	switch code {
	case 486, 600:
		return calls.CauseBusy
	case 403, 603:
		return calls.CauseRejected
	case 404, 604:
		return calls.CauseNotFound
	case 408:
		return calls.CauseRequestTimeout
	case 410, 480:
		return calls.CauseUnavailable
	case 487:
		return calls.CauseCanceled
	case 401, 407:
		return calls.CauseAuthentication
	default:
		return calls.CauseSIPFailure
	}
}
