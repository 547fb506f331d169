package client

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type pionPeerConnection struct {
	pc *webrtc.PeerConnection
}

// NewPeerConnection creates a pion peer connection.
func NewPeerConnection(config webrtc.Configuration) (PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(config)
	if err != nil {
		return nil, err
	}
	return &pionPeerConnection{pc: pc}, nil
}

func (p *pionPeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeerConnection) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *pionPeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionPeerConnection) SetVideoTrack(track webrtc.TrackLocal) error {
	for _, sender := range p.pc.GetSenders() {
		if current := sender.Track(); current != nil && current.Kind() == webrtc.RTPCodecTypeVideo {
			return sender.ReplaceTrack(track)
		}
	}
	_, err := p.pc.AddTrack(track)
	return err
}

func (p *pionPeerConnection) OnICECandidate(f func(candidate webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

func (p *pionPeerConnection) OnICEConnectionStateChange(f func(state webrtc.ICEConnectionState)) {
	p.pc.OnICEConnectionStateChange(f)
}

func (p *pionPeerConnection) Close() error {
	return p.pc.Close()
}

// MediaSource provides the local video used when a call is upgraded.
type MediaSource interface {
	VideoTrack() (webrtc.TrackLocal, error)
}

// StaticVideoSource is a VP8 track fed through WriteSample, e.g. from a
// capture pipeline or a file reader.
type StaticVideoSource struct {
	streamID string

	mu    sync.Mutex
	track *webrtc.TrackLocalStaticSample
}

// NewStaticVideoSource creates a source whose track uses streamID.
func NewStaticVideoSource(streamID string) *StaticVideoSource {
	return &StaticVideoSource{
		streamID: streamID,
	}
}

// VideoTrack returns the track, creating it on first use.
func (s *StaticVideoSource) VideoTrack() (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.track == nil {
		track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}, "video", s.streamID)
		if err != nil {
			return nil, err
		}
		s.track = track
	}
	return s.track, nil
}

// WriteSample writes a frame. Samples written before the track exists are
// dropped.
func (s *StaticVideoSource) WriteSample(sample media.Sample) error {
	s.mu.Lock()
	track := s.track
	s.mu.Unlock()

	if track == nil {
		return nil
	}
	return track.WriteSample(sample)
}
