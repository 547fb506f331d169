package client

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

const (
	audioSDP = "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"
	videoSDP = audioSDP + "m=video 9 UDP/TLS/RTP/SAVPF 96\r\n"
)

type fakePeerConnection struct {
	mu          sync.Mutex
	local       []webrtc.SessionDescription
	remote      []webrtc.SessionDescription
	candidates  []webrtc.ICECandidateInit
	videoTracks []webrtc.TrackLocal
	closed      bool

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.ICEConnectionState)
}

func (f *fakePeerConnection) sdp() string {
	if len(f.videoTracks) > 0 {
		return videoSDP
	}
	return audioSDP
}

func (f *fakePeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.sdp()}, nil
}

func (f *fakePeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: f.sdp()}, nil
}

func (f *fakePeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.local = append(f.local, desc)
	return nil
}

func (f *fakePeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.remote = append(f.remote, desc)
	return nil
}

func (f *fakePeerConnection) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.remote) > 0
}

func (f *fakePeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakePeerConnection) SetVideoTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.videoTracks = append(f.videoTracks, track)
	return nil
}

func (f *fakePeerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onCandidate = fn
}

func (f *fakePeerConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onState = fn
}

func (f *fakePeerConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

func (f *fakePeerConnection) gather(candidate string) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: candidate})
}

func (f *fakePeerConnection) setState(state webrtc.ICEConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(state)
}

func (f *fakePeerConnection) remoteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.remote)
}

func (f *fakePeerConnection) videoCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.videoTracks)
}

func (f *fakePeerConnection) addedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var result []string
	for _, c := range f.candidates {
		result = append(result, c.Candidate)
	}
	return result
}

type emitted struct {
	event string
	data  any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, emitted{event: event, data: data})
	return nil
}

func (r *recordingEmitter) named(event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []any
	for _, e := range r.events {
		if e.event == event {
			result = append(result, e.data)
		}
	}
	return result
}

func (r *recordingEmitter) last(t *testing.T, event string) any {
	t.Helper()

	events := r.named(event)
	require.NotEmpty(t, events, "no %s emitted", event)
	return events[len(events)-1]
}

type fakeSource struct {
	track webrtc.TrackLocal
	err   error
}

func (s *fakeSource) VideoTrack() (webrtc.TrackLocal, error) {
	return s.track, s.err
}

func description(t *testing.T, sdpType webrtc.SDPType, sdp string) json.RawMessage {
	t.Helper()

	data, err := json.Marshal(webrtc.SessionDescription{Type: sdpType, SDP: sdp})
	require.NoError(t, err)
	return data
}
