package softphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"softphone/internal/account"
	"softphone/internal/calls"
	"softphone/internal/health"
	"softphone/internal/livecall"
	"softphone/internal/notify"
	"softphone/internal/telephony"

	"github.com/samber/lo"
)

var (
	ErrNotReady       = errors.New("softphone: not ready to place calls")
	ErrCallInProgress = errors.New("softphone: a call is already in progress")
	ErrNoActiveCall   = errors.New("softphone: no active call")
	ErrInvalidNumber  = errors.New("softphone: invalid number")
	ErrStopped        = errors.New("softphone: engine stopped")
)

// Notifier receives user-visible notices and state broadcasts.
type Notifier interface {
	Notify(level notify.Level, message string)
	PublishState(state any)
}

// Ringer plays the incoming-call ringtone. Start and Stop must be idempotent.
type Ringer interface {
	Start()
	Stop()
}

// AudioSink is the single local audio output.
type AudioSink interface {
	Attach(track telephony.MediaTrack) error
	Detach()
}

// Options wires an Engine. Factory and Repo are required; the rest default to no-ops.
type Options struct {
	Account account.Account
	Factory telephony.Factory
	// Transport carries network settings; credentials are filled from Account.
	Transport telephony.Config
	Repo      livecall.Repository

	Notifier Notifier
	Ringer   Ringer
	Audio    AudioSink
	Logger   *slog.Logger

	Now          func() time.Time
	TickInterval time.Duration
}

// Engine is the call state store and session event reducer.
//
// Single writer:
// - all state below the marker is owned by the Run goroutine
// - commands are closures executed on that goroutine, one at a time
// - readers get an immutable Snapshot
//
// At most one call exists at a time. A second inbound session while a call is
// present is answered 486 Busy Here and never reaches the store; Dial returns
// ErrCallInProgress.
type Engine struct {
	factory   telephony.Factory
	netConfig telephony.Config
	repo      livecall.Repository
	notifier  Notifier
	ringer    Ringer
	audio     AudioSink
	log       *slog.Logger
	now       func() time.Time
	tick      time.Duration

	inbox   chan func(ctx context.Context)
	done    chan struct{}
	started atomic.Bool
	snap    atomic.Pointer[Snapshot]

	// loop-owned
	account      account.Account
	transport    telephony.Transport
	events       <-chan telephony.Event
	session      telephony.Session
	alert        calls.CallAlert
	health       health.ConnectionHealth
	registration health.RegistrationState
	startedAt    time.Time
	duration     string
	muted        bool
	ticker       *time.Ticker
	tickC        <-chan time.Time
	lastCall     *calls.CallAlert
	interrupted  *calls.CallAlert
}

func New(opts Options) (*Engine, error) {
	if opts.Factory == nil {
		return nil, errors.New("softphone: transport factory required")
	}
	if opts.Repo == nil {
		return nil, errors.New("softphone: live-call repository required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}

	e := &Engine{
		factory:      opts.Factory,
		netConfig:    opts.Transport,
		repo:         opts.Repo,
		notifier:     lo.Ternary[Notifier](opts.Notifier != nil, opts.Notifier, nopNotifier{}),
		ringer:       lo.Ternary[Ringer](opts.Ringer != nil, opts.Ringer, nopRinger{}),
		audio:        lo.Ternary[AudioSink](opts.Audio != nil, opts.Audio, nopAudio{}),
		log:          opts.Logger.With("component", "softphone"),
		now:          opts.Now,
		tick:         opts.TickInterval,
		inbox:        make(chan func(ctx context.Context)),
		done:         make(chan struct{}),
		account:      opts.Account,
		registration: health.RegistrationDisconnected,
	}
	e.health.CredentialsPresent = opts.Account.Complete()
	e.snap.Store(e.buildSnapshot())
	return e, nil
}

// Run owns the engine until ctx is cancelled. It reconciles any interrupted call,
// starts registration when credentials are complete, then processes commands,
// transport events and duration ticks one at a time.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("softphone: engine already running")
	}
	defer close(e.done)

	e.reconcile(ctx)
	if err := e.applyAccount(ctx, e.account); err != nil {
		e.log.Error("initial registration failed", "err", err)
	}
	e.publish()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case fn := <-e.inbox:
			fn(ctx)
		case ev := <-e.events:
			e.handle(ctx, ev)
		case <-e.tickC:
			e.refreshDuration()
			e.publish()
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Snapshot returns the latest published state. Safe from any goroutine.
func (e *Engine) Snapshot() Snapshot {
	return *e.snap.Load()
}

// Dial places an outbound call. The returned alert is the freshly created dialing record.
func (e *Engine) Dial(ctx context.Context, number string) (calls.CallAlert, error) {
	var out calls.CallAlert
	err := e.do(ctx, func(runCtx context.Context) error {
		alert, err := e.dial(ctx, number)
		out = alert
		return err
	})
	return out, err
}

// Answer accepts the ringing inbound call.
func (e *Engine) Answer(ctx context.Context) error {
	return e.do(ctx, func(runCtx context.Context) error { return e.answer(ctx) })
}

// Hangup rejects, cancels or ends the current call. With no call it only resets state.
func (e *Engine) Hangup(ctx context.Context) error {
	return e.do(ctx, func(runCtx context.Context) error { return e.hangup(ctx) })
}

// ToggleHold flips the hold flag of the connected call and returns the new value.
func (e *Engine) ToggleHold(ctx context.Context) (bool, error) {
	var held bool
	err := e.do(ctx, func(runCtx context.Context) error {
		var err error
		held, err = e.toggleHold(ctx)
		return err
	})
	return held, err
}

// ToggleMute flips the local mute flag of the connected call and returns the new value.
func (e *Engine) ToggleMute(ctx context.Context) (bool, error) {
	var muted bool
	err := e.do(ctx, func(runCtx context.Context) error {
		var err error
		muted, err = e.toggleMute()
		return err
	})
	return muted, err
}

// Transfer hands the connected call to target.
func (e *Engine) Transfer(ctx context.Context, target string) error {
	return e.do(ctx, func(runCtx context.Context) error { return e.transfer(ctx, target) })
}

// SetAccount replaces the credentials. The old transport is stopped before a new one starts.
func (e *Engine) SetAccount(ctx context.Context, acct account.Account) error {
	return e.do(ctx, func(runCtx context.Context) error {
		return e.applyAccount(runCtx, acct)
	})
}

func (e *Engine) do(ctx context.Context, fn func(runCtx context.Context) error) error {
	result := make(chan error, 1)
	cmd := func(runCtx context.Context) {
		err := fn(runCtx)
		e.publish()
		result <- err
	}
	select {
	case e.inbox <- cmd:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-e.done:
		return ErrStopped
	}
}

/* ===================== COMMANDS (loop goroutine) ===================== */

var dialTarget = regexp.MustCompile(`^[0-9A-Za-z+*#._-]+$`)

func normalizeTarget(number string) (string, error) {
	n := strings.Join(strings.Fields(number), "")
	n = strings.NewReplacer("(", "", ")", "").Replace(n)
	if n == "" || !dialTarget.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}
	return n, nil
}

func (e *Engine) dial(ctx context.Context, number string) (calls.CallAlert, error) {
	target, err := normalizeTarget(number)
	if err != nil {
		return calls.CallAlert{}, err
	}
	if !e.health.Ready() {
		return calls.CallAlert{}, fmt.Errorf("%w: %s", ErrNotReady, health.Classify(e.health).Label())
	}
	if !e.alert.IsEmpty() || e.session != nil {
		return calls.CallAlert{}, ErrCallInProgress
	}

	sess, err := e.transport.Call(ctx, target)
	if err != nil {
		e.log.Warn("dial failed", "target", target, "err", err)
		e.notifier.Notify(notify.LevelError, "Call failed: "+calls.CauseConnection)
		return calls.CallAlert{}, fmt.Errorf("softphone: dial %s: %w", target, err)
	}

	e.session = sess
	e.alert = calls.CallAlert{
		SessionID:   lo.CoalesceOrEmpty(sess.CallID(), sess.ID()),
		PhoneNumber: target,
		UserName:    sess.RemoteIdentity().DisplayName,
		Direction:   calls.DirectionOutgoing,
		Status:      calls.StatusDialing,
		CreatedAt:   e.now(),
	}
	e.persist(ctx)
	e.log.Info("outbound call", "call_id", e.alert.SessionID, "target", target)
	return e.alert, nil
}

func (e *Engine) answer(ctx context.Context) error {
	if e.session == nil || e.alert.Direction != calls.DirectionIncoming || e.alert.Status != calls.StatusRinging {
		return ErrNoActiveCall
	}
	if err := e.session.Answer(ctx); err != nil {
		e.log.Warn("answer failed", "call_id", e.alert.SessionID, "err", err)
		return fmt.Errorf("softphone: answer: %w", err)
	}
	e.connect(ctx)
	return nil
}

func (e *Engine) hangup(ctx context.Context) error {
	sess := e.session
	if e.alert.IsEmpty() {
		e.teardown()
		if sess != nil {
			e.terminate(ctx, sess)
		}
		return nil
	}

	switch {
	case e.alert.Status == calls.StatusConnected:
		e.finish(ctx, calls.StatusEnded, calls.CauseBye, telephony.OriginatorLocal)
	case e.alert.Direction == calls.DirectionIncoming:
		e.finish(ctx, calls.StatusFailed, calls.CauseRejected, telephony.OriginatorLocal)
	default:
		e.finish(ctx, calls.StatusFailed, calls.CauseCanceled, telephony.OriginatorLocal)
	}
	if sess != nil {
		e.terminate(ctx, sess)
	}
	return nil
}

// terminate runs after teardown; the session's own terminal event is then stale.
func (e *Engine) terminate(ctx context.Context, sess telephony.Session) {
	if err := sess.Terminate(ctx); err != nil {
		e.log.Warn("terminate failed", "session", sess.ID(), "err", err)
	}
}

func (e *Engine) toggleHold(ctx context.Context) (bool, error) {
	if e.session == nil || e.alert.Status != calls.StatusConnected {
		return false, ErrNoActiveCall
	}
	var err error
	if e.alert.IsHold {
		err = e.session.Unhold(ctx)
	} else {
		err = e.session.Hold(ctx)
	}
	if err != nil {
		e.log.Warn("hold toggle failed", "call_id", e.alert.SessionID, "err", err)
		return e.alert.IsHold, fmt.Errorf("softphone: hold: %w", err)
	}
	e.alert.IsHold = !e.alert.IsHold
	e.persist(ctx)
	return e.alert.IsHold, nil
}

func (e *Engine) toggleMute() (bool, error) {
	if e.session == nil || e.alert.Status != calls.StatusConnected {
		return false, ErrNoActiveCall
	}
	var err error
	if e.muted {
		err = e.session.Unmute()
	} else {
		err = e.session.Mute()
	}
	if err != nil {
		e.log.Warn("mute toggle failed", "call_id", e.alert.SessionID, "err", err)
		return e.muted, fmt.Errorf("softphone: mute: %w", err)
	}
	e.muted = !e.muted
	return e.muted, nil
}

func (e *Engine) transfer(ctx context.Context, target string) error {
	dest, err := normalizeTarget(target)
	if err != nil {
		return err
	}
	if e.session == nil || e.alert.Status != calls.StatusConnected {
		return ErrNoActiveCall
	}

	sess := e.session
	if err := sess.Refer(ctx, dest); err != nil {
		e.log.Warn("transfer failed", "call_id", e.alert.SessionID, "target", dest, "err", err)
		e.notifier.Notify(notify.LevelWarning, "Transfer to "+dest+" failed")
		return fmt.Errorf("softphone: transfer: %w", err)
	}

	e.finishWith(ctx, calls.StatusTransferred, "", telephony.OriginatorLocal, "Call transferred to "+dest)
	e.terminate(ctx, sess)
	return nil
}

// applyAccount swaps credentials. Any live call on the old transport is failed first.
func (e *Engine) applyAccount(ctx context.Context, acct account.Account) error {
	if e.transport != nil {
		if !e.alert.IsEmpty() {
			e.finish(ctx, calls.StatusFailed, calls.CauseConnection, telephony.OriginatorSystem)
		}
		e.registration = health.RegistrationUnregistering
		e.publish()
		if err := e.transport.Stop(ctx); err != nil {
			e.log.Warn("transport stop failed", "err", err)
		}
		e.transport, e.events = nil, nil
	}

	e.account = acct
	e.health = health.ConnectionHealth{CredentialsPresent: acct.Complete()}
	e.registration = health.RegistrationDisconnected

	if err := acct.Validate(); err != nil {
		e.log.Warn("sip credentials not configured", "err", err)
		e.notifier.Notify(notify.LevelWarning, health.StatusNoCredentials.Label())
		return nil
	}

	cfg := e.netConfig
	cfg.Endpoint = acct.Endpoint()
	cfg.Address = acct.Address()
	cfg.AuthorizationUser = acct.Extension
	cfg.Secret = acct.Secret
	cfg.DisplayName = lo.CoalesceOrEmpty(acct.DisplayName, acct.Extension)

	t, err := e.factory(cfg)
	if err != nil {
		e.log.Error("transport create failed", "err", err)
		e.notifier.Notify(notify.LevelError, "Registration failed")
		return fmt.Errorf("softphone: create transport: %w", err)
	}
	if err := t.Start(ctx); err != nil {
		e.log.Error("transport start failed", "err", err)
		e.notifier.Notify(notify.LevelError, "Registration failed")
		return fmt.Errorf("softphone: start transport: %w", err)
	}

	e.transport = t
	e.events = t.Events()
	e.registration = health.RegistrationConnecting
	e.log.Info("registration started", "extension", acct.Extension, "endpoint", cfg.Endpoint)
	return nil
}

// reconcile surfaces a call that was live when the process last stopped.
func (e *Engine) reconcile(ctx context.Context) {
	prev, err := livecall.Reconcile(ctx, e.repo)
	if err != nil {
		e.log.Warn("live-call reconcile failed", "err", err)
		return
	}
	if prev == nil {
		return
	}
	if prev.Status.IsTerminal() {
		// The call had already finished; only the clear was lost.
		e.log.Info("stale live-call record cleared", "call_id", prev.SessionID, "status", prev.Status)
		return
	}
	e.interrupted = prev
	e.log.Info("interrupted call found", "call_id", prev.SessionID, "number", prev.PhoneNumber, "status", prev.Status)
	e.notifier.Notify(notify.LevelWarning, "Previous call to "+prev.PhoneNumber+" was interrupted")
}

// shutdown releases local resources. The persisted record is kept so the next start can reconcile it.
func (e *Engine) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.stopTicker()
	e.ringer.Stop()
	e.audio.Detach()
	if e.session != nil {
		if err := e.session.Terminate(ctx); err != nil {
			e.log.Warn("terminate on shutdown failed", "err", err)
		}
	}
	if e.transport != nil {
		if err := e.transport.Stop(ctx); err != nil {
			e.log.Warn("transport stop failed", "err", err)
		}
	}
	e.log.Info("softphone engine stopped")
}

type nopNotifier struct{}

func (nopNotifier) Notify(notify.Level, string) {}
func (nopNotifier) PublishState(any)            {}

type nopRinger struct{}

func (nopRinger) Start() {}
func (nopRinger) Stop()  {}

type nopAudio struct{}

func (nopAudio) Attach(telephony.MediaTrack) error { return nil }
func (nopAudio) Detach()                           {}
