package calllog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-hub/internal/events"
	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
	"github.com/Tyrowin/gochat-hub/internal/store"
	"github.com/Tyrowin/gochat-hub/internal/testutil"
)

type recordingPublisher struct {
	subjects []string
}

func (p *recordingPublisher) Publish(subject string, payload any) error {
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() {}

func TestWriteStoresAndAnnounces(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	mem := store.NewMemory()
	rm := rooms.NewManager(zaptest.NewLogger(t))
	conn := testutil.NewRecordingConn("c1")
	rm.Register(conn)
	rm.Join("c1", "conv")
	publisher := &recordingPublisher{}

	w := NewWriter(zaptest.NewLogger(t), loop.NewManual(), rm, mem, mem, publisher)
	w.Write(Entry{
		ConversationID: "conv",
		SenderID:       "alice",
		Log: protocol.CallLog{
			CallType: protocol.CallTypeVideo,
			Status:   protocol.CallStatusCompleted,
			Duration: Duration(12.5),
		},
	})

	logs := mem.MessagesOfType(store.MessageTypeCall)
	require.Len(logs, 1)
	assert.Equal("conv", logs[0].ConversationID)
	assert.Equal("alice", logs[0].SenderID)
	assert.JSONEq(`{"callType":"video","status":"completed","duration":12.5}`, logs[0].Content)

	var announced store.Message
	conn.Last(t, protocol.EventReceiveMessage).Decode(t, &announced)
	assert.Equal(logs[0].ID, announced.ID)
	assert.Equal([]string{events.SubjectCallLogged}, publisher.subjects)
}

func TestWriteResolvesDirectConversation(t *testing.T) {
	assert := assert.New(t)

	mem := store.NewMemory()
	mem.SetDirectConversation("alice", "bob", "conv-ab")
	rm := rooms.NewManager(zaptest.NewLogger(t))
	conn := testutil.NewRecordingConn("c1")
	rm.Register(conn)
	rm.Join("c1", "conv-ab")
	publisher := &recordingPublisher{}

	w := NewWriter(zaptest.NewLogger(t), loop.NewManual(), rm, mem, mem, publisher)
	w.Write(Entry{
		SenderID: "alice",
		PeerID:   "bob",
		Log: protocol.CallLog{
			CallType: protocol.CallTypeAudio,
			Status:   protocol.CallStatusMissed,
		},
	})
	w.Write(Entry{
		SenderID: "alice",
		PeerID:   "carol",
		Log: protocol.CallLog{
			CallType: protocol.CallTypeAudio,
			Status:   protocol.CallStatusMissed,
		},
	})

	logs := mem.MessagesOfType(store.MessageTypeCall)
	if assert.Len(logs, 1) {
		assert.Equal("conv-ab", logs[0].ConversationID)
	}
	assert.Len(conn.Named(protocol.EventReceiveMessage), 1)
	assert.Equal([]string{events.SubjectCallLogged}, publisher.subjects)
}

func TestNullDuration(t *testing.T) {
	content, err := json.Marshal(protocol.CallLog{
		CallType: protocol.CallTypeAudio,
		Status:   protocol.CallStatusMissed,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"callType":"audio","status":"missed","duration":null}`, string(content))
}
