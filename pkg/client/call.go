package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

// CallState is the state of a call on the client.
type CallState int

const (
	CallIdle CallState = iota
	CallOutgoing
	CallIncoming
	CallConnected
	CallEnded
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOutgoing:
		return "outgoing"
	case CallIncoming:
		return "incoming"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ErrInvalidState is returned for operations not allowed in the current call
// state.
var ErrInvalidState = errors.New("invalid call state")

// Call is one 1:1 call as seen by a peer. The duration is measured locally:
// from accepting (callee) or from call_accepted (caller) until the call ends.
type Call struct {
	log       *zap.Logger
	signaling Emitter
	peer      *Peer
	clock     clock.Clock
	switcher  *SwitchNegotiator

	mu sync.Mutex
	// remote addresses the peer in "to" fields: the user id for the caller,
	// the connection id for the callee.
	remote         string
	remoteUserID   string
	conversationID string
	state          CallState
	isVideo        bool
	offer          webrtc.SessionDescription
	startedAt      time.Time
	endedAt        time.Time
}

// NewCall creates an idle call. A nil clock uses the wall clock.
func NewCall(log *zap.Logger, signaling Emitter, peer *Peer, source MediaSource, clk clock.Clock) *Call {
	if clk == nil {
		clk = clock.New()
	}
	c := &Call{
		log:       log.With(zap.String("component", "call")),
		signaling: signaling,
		peer:      peer,
		clock:     clk,
	}
	c.switcher = newSwitchNegotiator(c.log, c, source)
	peer.OnICECandidate(c.sendCandidate)
	return c
}

func (c *Call) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

func (c *Call) IsVideo() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isVideo
}

func (c *Call) RemoteUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.remoteUserID
}

// Switch returns the negotiator for upgrading this call to video.
func (c *Call) Switch() *SwitchNegotiator {
	return c.switcher
}

// Duration returns how long the call has been connected.
func (c *Call) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.startedAt.IsZero():
		return 0
	case c.state == CallEnded:
		return c.endedAt.Sub(c.startedAt)
	default:
		return c.clock.Since(c.startedAt)
	}
}

// Start calls toUserID. With video set, the local video track is attached
// before the offer is created.
func (c *Call) Start(toUserID, conversationID, callerName string, video bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallIdle {
		return ErrInvalidState
	}
	if video {
		if err := c.switcher.attachVideo(); err != nil {
			return err
		}
	}

	offer, err := c.peer.Offer()
	if err != nil {
		return err
	}
	c.state = CallOutgoing
	c.remote = toUserID
	c.remoteUserID = toUserID
	c.conversationID = conversationID
	c.isVideo = video

	return c.signaling.Emit(protocol.EventCallUser, protocol.CallUser{
		ToUserID:       toUserID,
		Offer:          mustMarshal(offer),
		IsVideo:        video,
		CallerName:     callerName,
		ConversationID: conversationID,
	})
}

// HandleIncoming processes call_incoming. An offer on a connected call is a
// renegotiation and is answered on the existing peer connection.
func (c *Call) HandleIncoming(in protocol.CallIncoming) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(in.Offer, &offer); err != nil {
		return errors.Wrap(err, "decode offer")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallIdle:
		c.state = CallIncoming
		c.remote = in.From
		c.remoteUserID = in.FromUserID
		c.isVideo = in.IsVideo
		c.offer = offer
		return nil
	case CallConnected:
		answer, err := c.peer.Answer(offer)
		if err != nil {
			return err
		}
		if in.IsVideo {
			c.isVideo = true
		}
		c.log.Debug("Renegotiated call",
			zap.String("remote", c.remoteUserID),
			zap.Bool("video", c.isVideo),
		)
		return c.signaling.Emit(protocol.EventAnswerCall, protocol.AnswerCall{
			To:     in.From,
			Answer: mustMarshal(answer),
		})
	default:
		c.log.Debug("Ignoring incoming call",
			zap.String("from", in.FromUserID),
			zap.Stringer("state", c.state),
		)
		return ErrInvalidState
	}
}

// Accept answers a ringing incoming call.
func (c *Call) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallIncoming {
		return ErrInvalidState
	}
	if c.isVideo {
		if err := c.switcher.attachVideo(); err != nil {
			return err
		}
	}

	answer, err := c.peer.Answer(c.offer)
	if err != nil {
		return err
	}
	c.state = CallConnected
	c.startedAt = c.clock.Now()

	return c.signaling.Emit(protocol.EventAnswerCall, protocol.AnswerCall{
		To:     c.remote,
		Answer: mustMarshal(answer),
	})
}

// HandleAccepted processes call_accepted, the answer to our latest offer.
func (c *Call) HandleAccepted(data json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(data, &answer); err != nil {
		return errors.Wrap(err, "decode answer")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallOutgoing && c.state != CallConnected {
		return ErrInvalidState
	}
	if err := c.peer.SetRemoteDescription(answer); err != nil {
		return err
	}
	if c.state == CallOutgoing {
		c.state = CallConnected
		c.startedAt = c.clock.Now()
	}
	return nil
}

// HandleCandidate adds a remote candidate. Candidates may arrive before the
// remote description.
func (c *Call) HandleCandidate(data json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(data, &candidate); err != nil {
		return errors.Wrap(err, "decode candidate")
	}
	return c.peer.AddICECandidate(candidate)
}

func (c *Call) sendCandidate(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	to := c.remote
	state := c.state
	c.mu.Unlock()

	if to == "" || state == CallEnded {
		return
	}
	if err := c.signaling.Emit(protocol.EventICECandidate, protocol.ICECandidate{
		To:        to,
		Candidate: mustMarshal(candidate),
	}); err != nil {
		c.log.Debug("Could not send candidate", zap.Error(err))
	}
}

// Reject declines a ringing incoming call.
func (c *Call) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallIncoming {
		return ErrInvalidState
	}
	c.endLocked()
	return c.signaling.Emit(protocol.EventRejectCall, protocol.Target{To: c.remote})
}

// Hangup ends the call from this side.
func (c *Call) Hangup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == CallIdle || c.state == CallEnded {
		return ErrInvalidState
	}
	c.endLocked()
	return c.signaling.Emit(protocol.EventEndCall, protocol.Target{To: c.remote})
}

// HandleEnded processes call_ended and call_rejected.
func (c *Call) HandleEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallEnded {
		c.endLocked()
	}
}

func (c *Call) endLocked() {
	c.state = CallEnded
	if !c.startedAt.IsZero() {
		c.endedAt = c.clock.Now()
	}
	c.switcher.reset()
	if err := c.peer.Close(); err != nil {
		c.log.Debug("Error closing peer connection", zap.Error(err))
	}
}

// Bind routes the call events of conn to this call. Failures are reported as
// media notices of the peer.
func (c *Call) Bind(conn *Conn) {
	handle := func(event string, f func(data json.RawMessage) error) {
		conn.On(event, func(data json.RawMessage) {
			if err := f(data); err != nil && !errors.Is(err, ErrInvalidState) {
				c.peer.notify(MediaNotice{Reason: NoticeNegotiationFailed, Err: err})
			}
		})
	}

	handle(protocol.EventCallIncoming, func(data json.RawMessage) error {
		var in protocol.CallIncoming
		if err := json.Unmarshal(data, &in); err != nil {
			return err
		}
		return c.HandleIncoming(in)
	})
	handle(protocol.EventCallAccepted, c.HandleAccepted)
	handle(protocol.EventICECandidate, c.HandleCandidate)
	handle(protocol.EventCallRejected, func(json.RawMessage) error {
		c.HandleEnded()
		return nil
	})
	handle(protocol.EventCallEnded, func(json.RawMessage) error {
		c.HandleEnded()
		return nil
	})
	handle(protocol.EventCallSwitchRequest, func(data json.RawMessage) error {
		var req protocol.SwitchRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		c.switcher.HandleRequest(req.FromUserID)
		return nil
	})
	handle(protocol.EventCallSwitchResponse, func(data json.RawMessage) error {
		var resp protocol.SwitchResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		return c.switcher.HandleResponse(resp.Accepted)
	})
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
