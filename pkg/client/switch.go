package client

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

// SwitchState is the state of a video switch negotiation.
type SwitchState int

const (
	SwitchNone SwitchState = iota
	SwitchOutgoingRequested
	SwitchIncomingRequested
)

func (s SwitchState) String() string {
	switch s {
	case SwitchNone:
		return "none"
	case SwitchOutgoingRequested:
		return "outgoing"
	case SwitchIncomingRequested:
		return "incoming"
	default:
		return "unknown"
	}
}

// ErrNoMediaSource is returned when video is needed but no source was given.
var ErrNoMediaSource = errors.New("no media source")

// SwitchNegotiator upgrades a connected audio call to video. Once the
// request is accepted, the requester attaches its video and sends a fresh
// offer; the accepting side attaches its video before answering that offer.
//
// The negotiator never holds its lock while calling into the call.
type SwitchNegotiator struct {
	log    *zap.Logger
	call   *Call
	source MediaSource

	mu    sync.Mutex
	state SwitchState
}

func newSwitchNegotiator(log *zap.Logger, call *Call, source MediaSource) *SwitchNegotiator {
	return &SwitchNegotiator{
		log:    log,
		call:   call,
		source: source,
	}
}

func (n *SwitchNegotiator) State() SwitchState {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.state
}

// transition moves from one state to another and reports whether the
// current state was from.
func (n *SwitchNegotiator) transition(from, to SwitchState) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.state != from {
		return false
	}
	n.state = to
	return true
}

func (n *SwitchNegotiator) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.state = SwitchNone
}

// Request asks the remote peer to switch to video.
func (n *SwitchNegotiator) Request() error {
	if n.call.State() != CallConnected {
		return ErrInvalidState
	}
	if !n.transition(SwitchNone, SwitchOutgoingRequested) {
		return ErrInvalidState
	}

	if err := n.call.signaling.Emit(protocol.EventCallSwitchRequest, protocol.SwitchRequest{
		ToUserID: n.call.RemoteUserID(),
	}); err != nil {
		n.reset()
		return err
	}
	return nil
}

// HandleRequest records a request of the remote peer. Requests while another
// one is pending are ignored.
func (n *SwitchNegotiator) HandleRequest(fromUserID string) {
	if !n.transition(SwitchNone, SwitchIncomingRequested) {
		n.log.Debug("Ignoring switch request",
			zap.String("from", fromUserID),
			zap.Stringer("state", n.State()),
		)
	}
}

// Respond answers the pending request of the remote peer. Accepting attaches
// the local video so the upcoming offer is answered with it.
func (n *SwitchNegotiator) Respond(accepted bool) error {
	if !n.transition(SwitchIncomingRequested, SwitchNone) {
		return ErrInvalidState
	}

	if accepted {
		if err := n.attachVideo(); err != nil {
			return err
		}
	}
	return n.call.signaling.Emit(protocol.EventCallSwitchResponse, protocol.SwitchResponse{
		ToUserID: n.call.RemoteUserID(),
		Accepted: accepted,
	})
}

// HandleResponse resolves our pending request. On acceptance the call is
// renegotiated with video.
func (n *SwitchNegotiator) HandleResponse(accepted bool) error {
	if !n.transition(SwitchOutgoingRequested, SwitchNone) {
		return ErrInvalidState
	}
	if !accepted {
		n.log.Debug("Switch to video rejected")
		return nil
	}
	return n.call.renegotiateVideo()
}

func (n *SwitchNegotiator) attachVideo() error {
	if n.source == nil {
		return ErrNoMediaSource
	}
	track, err := n.source.VideoTrack()
	if err != nil {
		return errors.Wrap(err, "acquire video")
	}
	return n.call.peer.SetVideoTrack(track)
}

// renegotiateVideo attaches the local video and sends a new offer on the
// connected call.
func (c *Call) renegotiateVideo() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != CallConnected {
		return ErrInvalidState
	}
	if err := c.switcher.attachVideo(); err != nil {
		return err
	}

	offer, err := c.peer.Offer()
	if err != nil {
		return err
	}
	c.isVideo = true
	return c.signaling.Emit(protocol.EventCallUser, protocol.CallUser{
		ToUserID:       c.remoteUserID,
		Offer:          mustMarshal(offer),
		IsVideo:        true,
		ConversationID: c.conversationID,
	})
}
