package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	audioOnlySDP = "v=0\r\n" +
		"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=sendrecv\r\n"

	videoSDP = audioOnlySDP +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:96 VP8/90000\r\n" +
		"a=sendrecv\r\n"

	inactiveVideoSDP = audioOnlySDP +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:96 VP8/90000\r\n" +
		"a=inactive\r\n"
)

func description(t *testing.T, sdp string) json.RawMessage {
	data, err := json.Marshal(map[string]string{"type": "offer", "sdp": sdp})
	require.NoError(t, err)
	return data
}

func TestDescriptionHasVideo(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.False(DescriptionHasVideo(description(t, audioOnlySDP)))
	assert.True(DescriptionHasVideo(description(t, videoSDP)))
	assert.False(DescriptionHasVideo(description(t, inactiveVideoSDP)))
	assert.False(DescriptionHasVideo(nil))
	assert.False(DescriptionHasVideo(json.RawMessage(`{"type":"offer"}`)))
	assert.False(DescriptionHasVideo(json.RawMessage(`"not a description"`)))
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	frame, err := Encode(EventGroupCallEnded, GroupCallEnded{ConversationID: "c1"})
	require.NoError(err)
	require.JSONEq(`{"event":"group_call_ended","data":{"conversationId":"c1"}}`, string(frame))

	env, err := Decode(frame)
	require.NoError(err)
	var ended GroupCallEnded
	require.NoError(env.DecodeData(&ended))
	require.Equal("c1", ended.ConversationID)

	frame, err = Encode(EventCallRejected, nil)
	require.NoError(err)
	require.JSONEq(`{"event":"call_rejected"}`, string(frame))
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	_, err := Decode([]byte(`{"data":{}}`))
	assert.ErrorIs(err, ErrMissingEvent)

	_, err = Decode([]byte(`not json`))
	assert.Error(err)

	env, err := Decode([]byte(`{"event":"typing"}`))
	if assert.NoError(err) {
		var typing Typing
		assert.Error(env.DecodeData(&typing))
	}
}

func TestDecodeID(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	env := &Envelope{Event: EventJoinRoom, Data: json.RawMessage(`"user-1"`)}
	id, err := env.DecodeID("userId")
	assert.NoError(err)
	assert.Equal("user-1", id)

	env = &Envelope{Event: EventLeaveGroupCall, Data: json.RawMessage(`{"conversationId":"c1"}`)}
	id, err = env.DecodeID("conversationId")
	assert.NoError(err)
	assert.Equal("c1", id)

	env = &Envelope{Event: EventJoinRoom, Data: json.RawMessage(`""`)}
	_, err = env.DecodeID("userId")
	assert.Error(err)

	env = &Envelope{Event: EventJoinRoom, Data: json.RawMessage(`{"other":"x"}`)}
	_, err = env.DecodeID("userId")
	assert.Error(err)
}

func TestEventName(t *testing.T) {
	assert.Equal(t, EventICECandidate, EventName([]byte(`{"event":"ice_candidate","data":{"to":"bob"}}`)))
	assert.Equal(t, "", EventName([]byte(`{"data":1}`)))
	assert.Equal(t, "", EventName([]byte(`not json`)))
}
