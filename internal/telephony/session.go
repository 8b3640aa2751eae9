package telephony

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"softphone/internal/calls"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

// declineCode is sent when the user hangs up a ringing incoming call.
// It maps back to CauseRejected in causeFromStatus.
const declineCode = 603

var (
	ErrSessionFinished = errors.New("telephony: session already finished")
	ErrNotAnswered     = errors.New("telephony: session not answered")
	ErrAlreadyAnswered = errors.New("telephony: session already answered")
)

// sipSession is one INVITE dialog, client side for outgoing calls and server side for incoming ones.
type sipSession struct {
	t         *SIPTransport
	id        string
	callID    string
	direction Direction
	remote    Identity

	cli    *sipgo.DialogClientSession
	srv    *sipgo.DialogServerSession
	invite *sip.Request
	leg    *rtpLeg

	cancelWait context.CancelFunc
	settled    chan struct{}
	settleOnce sync.Once
	finishOnce sync.Once

	mu         sync.Mutex
	answered   bool
	finished   bool
	muted      bool
	held       bool
	sdpVersion uint64
	remoteRTP  *net.UDPAddr
}

func newSIPSession(t *SIPTransport, dir Direction, remote Identity) *sipSession {
	return &sipSession{
		t:          t,
		id:         uuid.NewString(),
		direction:  dir,
		remote:     remote,
		settled:    make(chan struct{}),
		sdpVersion: 1,
	}
}

func (s *sipSession) ID() string               { return s.id }
func (s *sipSession) CallID() string           { return s.callID }
func (s *sipSession) Direction() Direction     { return s.direction }
func (s *sipSession) RemoteIdentity() Identity { return s.remote }

func (s *sipSession) Header(name string) string {
	if s.invite == nil {
		return ""
	}
	if h := s.invite.GetHeader(name); h != nil {
		return h.Value()
	}
	return ""
}

func (s *sipSession) RemoteTrack() (MediaTrack, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.leg == nil || !s.answered || s.finished {
		return nil, false
	}
	return s.leg, true
}

func (s *sipSession) state() (answered, finished bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answered, s.finished
}

func (s *sipSession) settle() {
	s.settleOnce.Do(func() { close(s.settled) })
}

// finish releases the session and reports its single terminal event.
func (s *sipSession) finish(kind EventKind, origin Originator, cause string) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.finished = true
		leg := s.leg
		s.mu.Unlock()

		if s.cancelWait != nil {
			s.cancelWait()
		}
		if leg != nil {
			_ = leg.Close()
		}
		s.settle()
		s.t.untrack(s)
		s.t.emit(Event{Kind: kind, Session: s, Originator: origin, Cause: cause})
	})
}

// awaitAnswer drives an outgoing INVITE to its final response.
func (s *sipSession) awaitAnswer(ctx context.Context) {
	err := s.cli.WaitAnswer(ctx, sipgo.AnswerOptions{
		Username: s.t.cfg.AuthorizationUser,
		Password: s.t.cfg.Secret,
		OnResponse: func(res *sip.Response) error {
			if res.StatusCode == 180 || res.StatusCode == 183 {
				s.t.emit(Event{Kind: EventProgress, Session: s, Originator: OriginatorRemote})
			}
			return nil
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled locally, Terminate already reported it.
			return
		}
		var derr *sipgo.ErrDialogResponse
		if errors.As(err, &derr) {
			s.finish(EventFailed, OriginatorRemote, causeFromStatus(int(derr.Res.StatusCode)))
			return
		}
		s.t.log.Warn("invite failed", "call_id", s.callID, "err", err)
		s.finish(EventFailed, OriginatorSystem, calls.CauseConnection)
		return
	}

	if err := s.cli.Ack(context.Background()); err != nil {
		s.t.log.Warn("ack failed", "call_id", s.callID, "err", err)
	}
	if s.cli.InviteResponse != nil {
		s.bindRemote(s.cli.InviteResponse.Body())
	}

	s.mu.Lock()
	s.answered = true
	s.mu.Unlock()

	s.t.emit(Event{Kind: EventAccepted, Session: s, Originator: OriginatorRemote})
	s.t.emit(Event{Kind: EventConfirmed, Session: s, Originator: OriginatorLocal})
	s.t.emit(Event{Kind: EventTrack, Session: s, Originator: OriginatorRemote, Track: s.leg})
}

func (s *sipSession) bindRemote(body []byte) {
	addr, err := remoteAudio(body)
	if err != nil {
		s.t.log.Warn("remote sdp unusable", "call_id", s.callID, "err", err)
		return
	}
	s.mu.Lock()
	s.remoteRTP = addr
	s.mu.Unlock()
	s.t.emit(Event{Kind: EventSDP, Session: s, Originator: OriginatorRemote})
}

func (s *sipSession) Answer(ctx context.Context) error {
	if s.direction != DirectionIncoming {
		return fmt.Errorf("telephony: answer outgoing session: %w", ErrAlreadyAnswered)
	}
	answered, finished := s.state()
	if finished {
		return ErrSessionFinished
	}
	if answered {
		return ErrAlreadyAnswered
	}

	leg, err := listenRTP(s.t.cfg.RTPAddr)
	if err != nil {
		return err
	}
	s.bindRemote(s.invite.Body())

	body, err := buildSDP(s.nextVersion(), s.t.contact.Address.Host, leg.Port(), mediaSendRecv)
	if err != nil {
		_ = leg.Close()
		return err
	}
	if err := s.srv.RespondSDP(body); err != nil {
		_ = leg.Close()
		return fmt.Errorf("telephony: answer: %w", err)
	}

	s.mu.Lock()
	s.leg = leg
	s.answered = true
	s.mu.Unlock()
	s.settle()

	s.t.emit(Event{Kind: EventAccepted, Session: s, Originator: OriginatorLocal})
	s.t.emit(Event{Kind: EventTrack, Session: s, Originator: OriginatorRemote, Track: leg})
	return nil
}

func (s *sipSession) Terminate(ctx context.Context) error {
	answered, finished := s.state()
	if finished {
		return nil
	}

	switch {
	case answered:
		var err error
		if s.cli != nil {
			err = s.cli.Bye(ctx)
		} else {
			err = s.srv.Bye(ctx)
		}
		s.finish(EventEnded, OriginatorLocal, calls.CauseBye)
		if err != nil {
			return fmt.Errorf("telephony: bye: %w", err)
		}
		return nil
	case s.direction == DirectionOutgoing:
		// WaitAnswer sends CANCEL when its context is done.
		s.finish(EventFailed, OriginatorLocal, calls.CauseCanceled)
		return nil
	default:
		return s.Reject(ctx, declineCode, "Decline")
	}
}

func (s *sipSession) Reject(_ context.Context, code int, reason string) error {
	if s.direction != DirectionIncoming {
		return fmt.Errorf("telephony: reject outgoing session")
	}
	answered, finished := s.state()
	if finished {
		return ErrSessionFinished
	}
	if answered {
		return ErrAlreadyAnswered
	}
	err := s.srv.Respond(code, reason, nil)
	s.finish(EventFailed, OriginatorLocal, causeFromStatus(code))
	if err != nil {
		return fmt.Errorf("telephony: reject: %w", err)
	}
	return nil
}

// Mute only gates the local flag; no audio is captured.
func (s *sipSession) Mute() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrSessionFinished
	}
	s.muted = true
	return nil
}

func (s *sipSession) Unmute() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return ErrSessionFinished
	}
	s.muted = false
	return nil
}

func (s *sipSession) Hold(ctx context.Context) error {
	if err := s.reinvite(ctx, mediaSendOnly); err != nil {
		return err
	}
	s.mu.Lock()
	s.held = true
	s.mu.Unlock()
	s.t.emit(Event{Kind: EventHold, Session: s, Originator: OriginatorLocal})
	return nil
}

func (s *sipSession) Unhold(ctx context.Context) error {
	if err := s.reinvite(ctx, mediaSendRecv); err != nil {
		return err
	}
	s.mu.Lock()
	s.held = false
	s.mu.Unlock()
	s.t.emit(Event{Kind: EventUnhold, Session: s, Originator: OriginatorLocal})
	return nil
}

func (s *sipSession) Refer(ctx context.Context, target string) error {
	answered, finished := s.state()
	if finished {
		return ErrSessionFinished
	}
	if !answered {
		return ErrNotAnswered
	}

	referTo := sip.Uri{User: target, Host: s.t.endpoint.Host, Port: s.t.endpoint.Port}
	req := sip.NewRequest(sip.REFER, s.remoteTarget())
	req.AppendHeader(sip.NewHeader("Refer-To", "<"+referTo.String()+">"))
	req.AppendHeader(sip.NewHeader("Referred-By", "<"+s.t.aor.String()+">"))

	res, err := s.do(ctx, req)
	if err != nil {
		return fmt.Errorf("telephony: refer: %w", err)
	}
	if res.StatusCode != 202 && res.StatusCode != 200 {
		return fmt.Errorf("telephony: refer rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

func (s *sipSession) reinvite(ctx context.Context, direction string) error {
	answered, finished := s.state()
	if finished {
		return ErrSessionFinished
	}
	if !answered {
		return ErrNotAnswered
	}

	s.mu.Lock()
	leg := s.leg
	s.mu.Unlock()
	port := 0
	if leg != nil {
		port = leg.Port()
	}
	body, err := buildSDP(s.nextVersion(), s.t.contact.Address.Host, port, direction)
	if err != nil {
		return err
	}

	req := sip.NewRequest(sip.INVITE, s.remoteTarget())
	req.SetBody(body)
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))

	res, err := s.do(ctx, req)
	if err != nil {
		return fmt.Errorf("telephony: re-invite: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("telephony: re-invite rejected: %d %s", res.StatusCode, res.Reason)
	}
	if err := s.t.client.WriteRequest(sip.NewAckRequest(req, res, nil)); err != nil {
		s.t.log.Warn("re-invite ack failed", "call_id", s.callID, "err", err)
	}
	return nil
}

func (s *sipSession) do(ctx context.Context, req *sip.Request) (*sip.Response, error) {
	if s.cli != nil {
		return s.cli.Do(ctx, req)
	}
	return s.srv.Do(ctx, req)
}

// remoteTarget is the peer's Contact, falling back to its address of record.
func (s *sipSession) remoteTarget() sip.Uri {
	if s.cli != nil {
		if res := s.cli.InviteResponse; res != nil {
			if c := res.Contact(); c != nil {
				return c.Address
			}
		}
		if to := s.invite.To(); to != nil {
			return to.Address
		}
	}
	if c := s.invite.Contact(); c != nil {
		return c.Address
	}
	if f := s.invite.From(); f != nil {
		return f.Address
	}
	return s.t.endpoint
}

func (s *sipSession) nextVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sdpVersion++
	return s.sdpVersion
}
