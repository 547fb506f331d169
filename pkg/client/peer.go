package client

import (
	"sync"

	"github.com/gammazero/deque"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PeerConnection is the part of a WebRTC peer connection used by calls.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// SetVideoTrack replaces the track of the video sender, or adds one.
	SetVideoTrack(track webrtc.TrackLocal) error
	OnICECandidate(f func(candidate webrtc.ICECandidateInit))
	OnICEConnectionStateChange(f func(state webrtc.ICEConnectionState))
	Close() error
}

// NoticeReason tells why a media notice was raised.
type NoticeReason string

const (
	NoticeICEFailed         NoticeReason = "ice_failed"
	NoticeICEDisconnected   NoticeReason = "ice_disconnected"
	NoticeNegotiationFailed NoticeReason = "negotiation_failed"
)

// MediaNotice reports a media problem. The call stays up; the application
// decides whether to hang up or keep waiting.
type MediaNotice struct {
	Reason NoticeReason
	Err    error
}

// Peer wraps a PeerConnection. Remote candidates that arrive before the
// remote description are queued and applied in arrival order once it is set.
type Peer struct {
	log *zap.Logger
	pc  PeerConnection

	mu      sync.Mutex
	pending deque.Deque[webrtc.ICECandidateInit]

	noticeMu sync.Mutex
	onNotice func(MediaNotice)
}

// NewPeer wraps a peer connection.
func NewPeer(log *zap.Logger, pc PeerConnection) *Peer {
	p := &Peer{
		log: log,
		pc:  pc,
	}
	pc.OnICEConnectionStateChange(p.onICEConnectionStateChange)
	return p
}

func (p *Peer) OnMediaNotice(f func(MediaNotice)) {
	p.noticeMu.Lock()
	defer p.noticeMu.Unlock()

	p.onNotice = f
}

func (p *Peer) notify(notice MediaNotice) {
	p.noticeMu.Lock()
	f := p.onNotice
	p.noticeMu.Unlock()

	p.log.Warn("Media problem",
		zap.String("reason", string(notice.Reason)),
		zap.Error(notice.Err),
	)
	if f != nil {
		f(notice)
	}
}

func (p *Peer) onICEConnectionStateChange(state webrtc.ICEConnectionState) {
	switch state {
	case webrtc.ICEConnectionStateFailed:
		p.notify(MediaNotice{Reason: NoticeICEFailed})
	case webrtc.ICEConnectionStateDisconnected:
		p.notify(MediaNotice{Reason: NoticeICEDisconnected})
	}
}

// OnICECandidate is called for every local candidate.
func (p *Peer) OnICECandidate(f func(candidate webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(f)
}

func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pc.HasRemoteDescription() {
		p.pending.PushBack(candidate)
		return nil
	}
	return errors.Wrap(p.pc.AddICECandidate(candidate), "add ice candidate")
}

// SetRemoteDescription applies desc and flushes the queued candidates.
func (p *Peer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return errors.Wrapf(err, "set remote %s", desc.Type)
	}

	for p.pending.Len() > 0 {
		candidate := p.pending.PopFront()
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.log.Warn("Could not add queued ICE candidate",
				zap.String("candidate", candidate.Candidate),
				zap.Error(err),
			)
		}
	}
	return nil
}

// PendingCandidates returns the number of queued remote candidates.
func (p *Peer) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.pending.Len()
}

// Offer creates an offer and applies it as local description.
func (p *Peer) Offer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create offer")
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "set local offer")
	}
	return offer, nil
}

// Answer applies a remote offer and returns the local answer.
func (p *Peer) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := p.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := p.pc.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "create answer")
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, errors.Wrap(err, "set local answer")
	}
	return answer, nil
}

func (p *Peer) SetVideoTrack(track webrtc.TrackLocal) error {
	return errors.Wrap(p.pc.SetVideoTrack(track), "set video track")
}

func (p *Peer) Close() error {
	return p.pc.Close()
}
