package client

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

func TestStaticVideoSource(t *testing.T) {
	source := NewStaticVideoSource("stream")
	require.NoError(t, source.WriteSample(media.Sample{Data: []byte{0}, Duration: time.Millisecond}))

	track, err := source.VideoTrack()
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, track.Kind())
	assert.Equal(t, "stream", track.StreamID())

	again, err := source.VideoTrack()
	require.NoError(t, err)
	assert.Same(t, track, again)

	require.NoError(t, source.WriteSample(media.Sample{Data: []byte{0}, Duration: time.Millisecond}))
}

func TestPionPeerConnectionVideoOffer(t *testing.T) {
	pc, err := NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer pc.Close() // nolint

	track, err := NewStaticVideoSource("stream").VideoTrack()
	require.NoError(t, err)
	require.NoError(t, pc.SetVideoTrack(track))

	// A second track replaces the first one on the same sender.
	replacement, err := NewStaticVideoSource("other").VideoTrack()
	require.NoError(t, err)
	require.NoError(t, pc.SetVideoTrack(replacement))

	senders := pc.(*pionPeerConnection).pc.GetSenders()
	require.Len(t, senders, 1)
	assert.Same(t, replacement, senders[0].Track())

	peer := NewPeer(zaptest.NewLogger(t), pc)
	offer, err := peer.Offer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.True(t, protocol.DescriptionHasVideo(mustMarshal(offer)))
	assert.False(t, pc.HasRemoteDescription())
}
