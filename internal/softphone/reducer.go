package softphone

import (
	"context"
	"time"

	"softphone/internal/calls"
	"softphone/internal/health"
	"softphone/internal/notify"
	"softphone/internal/telephony"

	"github.com/samber/lo"
)

// callerIDHeader carries the correlation id some PBXs attach to inbound INVITEs.
const callerIDHeader = "X-Caller-ID"

// handle is the single reducer for every transport and session event.
func (e *Engine) handle(ctx context.Context, ev telephony.Event) {
	switch ev.Kind {
	case telephony.EventConnected:
		e.health.TransportConnected = true
		e.health.Registered = false
		e.registration = health.RegistrationConnected
		e.notifier.Notify(notify.LevelSuccess, "Server connected")

	case telephony.EventDisconnected:
		e.health.TransportConnected = false
		e.health.Registered = false
		e.registration = health.RegistrationDisconnected
		e.notifier.Notify(notify.LevelError, "Server disconnected")

	case telephony.EventRegistered:
		e.health.TransportConnected = true
		e.health.Registered = true
		e.registration = health.RegistrationRegistered
		e.notifier.Notify(notify.LevelSuccess, "User registered")

	case telephony.EventRegistrationFailed:
		e.health.TransportConnected = true
		e.health.Registered = false
		e.registration = health.RegistrationFailed
		msg := "Registration failed"
		if ev.Cause != "" {
			msg += ": " + ev.Cause
		}
		e.notifier.Notify(notify.LevelError, msg)

	case telephony.EventUnregistered:
		e.health.Registered = false
		e.registration = lo.Ternary(e.health.TransportConnected, health.RegistrationConnected, health.RegistrationDisconnected)

	case telephony.EventRegistrationExpiring:
		e.log.Debug("registration expiring")
		return

	case telephony.EventNewSession:
		e.onNewSession(ctx, ev.Session)

	default:
		if !ev.Kind.IsSessionEvent() {
			e.log.Warn("unknown transport event", "kind", int(ev.Kind))
			return
		}
		if !e.isActive(ev.Session) {
			e.log.Debug("stale session event ignored", "kind", ev.Kind.String())
			return
		}
		e.onSessionEvent(ctx, ev)
	}
	e.publish()
}

func (e *Engine) isActive(s telephony.Session) bool {
	return s != nil && e.session != nil && s.ID() == e.session.ID()
}

func (e *Engine) onNewSession(ctx context.Context, sess telephony.Session) {
	if sess == nil || sess.Direction() != telephony.DirectionIncoming {
		// Outbound alerts are created by Dial from the returned session.
		return
	}
	remote := sess.RemoteIdentity()
	if !e.alert.IsEmpty() || e.session != nil {
		e.log.Info("busy, rejecting inbound call", "from", remote.User, "current", e.alert.SessionID)
		if err := sess.Reject(ctx, 486, "Busy Here"); err != nil {
			e.log.Warn("busy reject failed", "err", err)
		}
		return
	}

	e.session = sess
	e.alert = calls.CallAlert{
		SessionID:   lo.CoalesceOrEmpty(sess.Header(callerIDHeader), sess.ID()),
		PhoneNumber: remote.User,
		UserName:    remote.DisplayName,
		Direction:   calls.DirectionIncoming,
		Status:      calls.StatusRinging,
		CreatedAt:   e.now(),
	}
	e.ringer.Start()
	e.persist(ctx)
	e.log.Info("inbound call", "call_id", e.alert.SessionID, "from", remote.User)
}

func (e *Engine) onSessionEvent(ctx context.Context, ev telephony.Event) {
	log := e.log.With("call_id", e.alert.SessionID, "direction", string(e.alert.Direction))

	switch ev.Kind {
	case telephony.EventAccepted:
		// Inbound calls connect on local Answer; the transport echo is ignored.
		if e.alert.Direction == calls.DirectionOutgoing && e.alert.Status != calls.StatusConnected {
			e.connect(ctx)
		}

	case telephony.EventFailed:
		e.finish(ctx, calls.StatusFailed, lo.CoalesceOrEmpty(ev.Cause, calls.CauseNoAnswer), ev.Originator)

	case telephony.EventEnded:
		e.finish(ctx, calls.StatusEnded, lo.CoalesceOrEmpty(ev.Cause, calls.CauseAnswer), ev.Originator)

	case telephony.EventTrack:
		e.attachAudio(ev.Track)

	case telephony.EventHold, telephony.EventUnhold:
		log.Debug("hold state reported", "kind", ev.Kind.String(), "originator", string(ev.Originator))

	default:
		log.Debug("session event", "kind", ev.Kind.String())
	}
}

// connect moves the call to connected. Only reached from an outbound accepted event or a local answer.
func (e *Engine) connect(ctx context.Context) {
	e.alert.Status = calls.StatusConnected
	e.startedAt = e.now()
	e.duration = calls.FormatDuration(0)
	e.startTicker()
	e.ringer.Stop()

	if track, ok := e.session.RemoteTrack(); ok {
		e.attachAudio(track)
	}
	e.persist(ctx)
	e.log.Info("call connected", "call_id", e.alert.SessionID)
}

func (e *Engine) attachAudio(track telephony.MediaTrack) {
	if track == nil || e.alert.Status != calls.StatusConnected {
		return
	}
	if err := e.audio.Attach(track); err != nil {
		e.log.Warn("audio attach failed", "call_id", e.alert.SessionID, "err", err)
	}
}

func (e *Engine) finish(ctx context.Context, status calls.Status, cause string, origin telephony.Originator) {
	msg := "Call ended"
	if status == calls.StatusFailed {
		msg = "Call failed: " + cause
	}
	e.finishWith(ctx, status, cause, origin, msg)
}

// finishWith records the terminal state, clears the persisted record and tears down.
// The notification is skipped when no record was left to clear.
func (e *Engine) finishWith(ctx context.Context, status calls.Status, cause string, origin telephony.Originator, msg string) {
	if e.alert.IsEmpty() {
		e.teardown()
		return
	}

	e.alert.Status = status
	e.alert.Cause = cause
	e.alert.HangupBy = e.hangupBy(origin)
	final := e.alert

	hadRecord := e.clearRecord(ctx)
	if hadRecord {
		level := notify.LevelInfo
		if status == calls.StatusFailed {
			level = notify.LevelError
		}
		e.notifier.Notify(level, msg)
	}

	e.lastCall = &final
	e.log.Info("call finished", "call_id", final.SessionID, "status", string(status), "cause", cause, "hangup_by", final.HangupBy)
	e.teardown()
}

func (e *Engine) hangupBy(origin telephony.Originator) string {
	if origin == telephony.OriginatorRemote {
		if e.session != nil {
			if user := e.session.RemoteIdentity().User; user != "" {
				return user
			}
		}
		return e.alert.PhoneNumber
	}
	return e.account.Extension
}

// teardown is the one path back to idle.
func (e *Engine) teardown() {
	e.alert = calls.CallAlert{}
	e.startedAt = time.Time{}
	e.duration = ""
	e.muted = false
	e.stopTicker()
	e.ringer.Stop()
	e.audio.Detach()
	e.session = nil
}

func (e *Engine) persist(ctx context.Context) {
	if err := e.repo.Save(ctx, e.alert); err != nil {
		e.log.Warn("live-call save failed", "call_id", e.alert.SessionID, "err", err)
	}
}

// clearRecord removes the persisted record and reports whether one was present.
func (e *Engine) clearRecord(ctx context.Context) bool {
	rec, err := e.repo.Load(ctx)
	if err != nil {
		e.log.Warn("live-call load failed", "err", err)
	}
	present := rec != nil || err != nil
	if present {
		if err := e.repo.Clear(ctx); err != nil {
			e.log.Warn("live-call clear failed", "err", err)
		}
	}
	return present
}

func (e *Engine) startTicker() {
	e.stopTicker()
	e.ticker = time.NewTicker(e.tick)
	e.tickC = e.ticker.C
}

func (e *Engine) stopTicker() {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	e.ticker, e.tickC = nil, nil
}

func (e *Engine) refreshDuration() {
	if e.startedAt.IsZero() {
		return
	}
	e.duration = calls.FormatDuration(e.now().Sub(e.startedAt))
}
