package groupcall

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-hub/internal/calllog"
	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
	"github.com/Tyrowin/gochat-hub/internal/store"
	"github.com/Tyrowin/gochat-hub/internal/testutil"
)

const conversation = "conv-team"

// directory maps connections to users; every mapped user is online.
type directory map[string]string

func (d directory) UserFor(connID string) (string, bool) {
	userID, found := d[connID]
	return userID, found
}

func (d directory) AnyOnline() (string, bool) {
	var users []string
	for _, userID := range d {
		users = append(users, userID)
	}
	if len(users) == 0 {
		return "", false
	}
	sort.Strings(users)
	return users[0], true
}

type fixture struct {
	loop  *loop.Manual
	rooms *rooms.Manager
	store *store.Memory
	dir   directory
	calls *Coordinator
	conns map[string]*testutil.RecordingConn
}

func newFixture(t *testing.T, config Config) *fixture {
	log := zaptest.NewLogger(t)
	f := &fixture{
		loop:  loop.NewManual(),
		rooms: rooms.NewManager(log),
		store: store.NewMemory(),
		dir: directory{
			"conn-a": "alice",
			"conn-b": "bob",
			"conn-c": "carol",
			"conn-d": "dave",
		},
		conns: make(map[string]*testutil.RecordingConn),
	}
	for connID := range f.dir {
		conn := testutil.NewRecordingConn(connID)
		f.conns[connID] = conn
		f.rooms.Register(conn)
		f.rooms.Join(connID, conversation)
	}
	writer := calllog.NewWriter(log, f.loop, f.rooms, f.store, f.store, nil)
	f.calls = NewCoordinator(log, f.loop, f.rooms, f.dir, writer, nil, config)
	return f
}

func (f *fixture) join(connID string) {
	f.calls.Join(connID, protocol.JoinGroupCall{
		ConversationID: conversation,
		UserID:         f.dir[connID],
	})
}

func (f *fixture) count(connID, event string) int {
	return len(f.conns[connID].Named(event))
}

func (f *fixture) callLogs(t *testing.T) []protocol.CallLog {
	var result []protocol.CallLog
	for _, msg := range f.store.MessagesOfType(store.MessageTypeCall) {
		var entry protocol.CallLog
		require.NoError(t, json.Unmarshal([]byte(msg.Content), &entry))
		result = append(result, entry)
	}
	return result
}

func TestJoinEmptyCallRoomStartsSession(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")

	for connID := range f.conns {
		started := f.conns[connID].Named(protocol.EventGroupCallStarted)
		if assert.Len(started, 1, connID) {
			var payload protocol.GroupCallStarted
			started[0].Decode(t, &payload)
			assert.Equal(conversation, payload.ConversationID)
			assert.Equal("alice", payload.InitiatorID)
			assert.Equal("conn-a", payload.FromSocketID)
			assert.True(payload.StartTime.Equal(f.loop.Now()))
		}
	}

	var peers []protocol.CallPeer
	f.conns["conn-a"].Last(t, protocol.EventAllUsersInCall).Decode(t, &peers)
	assert.Empty(peers)

	info, found := f.calls.Session(conversation)
	assert.True(found)
	assert.Equal("alice", info.InitiatorID)
	assert.Equal(StateActive, info.State)
}

func TestPeerDiscovery(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.join("conn-b")
	f.join("conn-c")

	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallStarted))

	var peers []protocol.CallPeer
	f.conns["conn-c"].Last(t, protocol.EventAllUsersInCall).Decode(t, &peers)
	assert.Equal([]protocol.CallPeer{
		{SocketID: "conn-a", UserID: "alice"},
		{SocketID: "conn-b", UserID: "bob"},
	}, peers)

	f.join("conn-c")
	assert.Equal(1, f.count("conn-c", protocol.EventAllUsersInCall), "joining twice is ignored")
}

func TestMeshSignalRelay(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.join("conn-b")

	f.calls.SendingSignal("conn-b", protocol.SendingSignal{
		UserToSignal: "conn-a",
		Signal:       json.RawMessage(`{"type":"offer"}`),
		CallerID:     "conn-b",
	})
	var joined protocol.UserJoinedCall
	f.conns["conn-a"].Last(t, protocol.EventUserJoinedCall).Decode(t, &joined)
	assert.Equal("conn-b", joined.CallerID)
	assert.Equal("bob", joined.CallerUserID)
	assert.JSONEq(`{"type":"offer"}`, string(joined.Signal))

	f.calls.ReturningSignal("conn-a", protocol.ReturningSignal{
		Signal:   json.RawMessage(`{"type":"answer"}`),
		CallerID: "conn-b",
	})
	var returned protocol.ReceivingReturnedSignal
	f.conns["conn-b"].Last(t, protocol.EventReceivingReturnedSignal).Decode(t, &returned)
	assert.Equal("conn-a", returned.ID)
	assert.Equal("alice", returned.UserID)
	assert.JSONEq(`{"type":"answer"}`, string(returned.Signal))

	f.calls.SendingSignal("conn-b", protocol.SendingSignal{UserToSignal: "gone"})
	f.calls.ReturningSignal("conn-a", protocol.ReturningSignal{CallerID: "gone"})
	assert.Equal(1, f.count("conn-a", protocol.EventUserJoinedCall))
	assert.Equal(1, f.count("conn-b", protocol.EventReceivingReturnedSignal))
}

func TestRejoinWithinGracePeriod(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.loop.Advance(time.Minute)

	f.calls.Leave("conn-a", conversation)
	info, _ := f.calls.Session(conversation)
	assert.Equal(StateGracePeriod, info.State)

	f.loop.Advance(2 * time.Second)
	f.join("conn-a")
	f.loop.Advance(10 * time.Second)

	assert.Equal(0, f.count("conn-b", protocol.EventGroupCallEnded))
	assert.Equal(1, f.count("conn-b", protocol.EventGroupCallStarted))
	info, found := f.calls.Session(conversation)
	assert.True(found)
	assert.Equal(StateActive, info.State)
	assert.Empty(f.callLogs(t))
}

func TestEarlierGraceTimerKeepsRejoinedCall(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.join("conn-b")

	f.loop.Advance(time.Second)
	f.calls.Leave("conn-a", conversation)
	f.loop.Advance(3 * time.Second)
	f.calls.Leave("conn-b", conversation)

	// The timer of the first leave fires while the room is empty.
	f.loop.Advance(1100 * time.Millisecond)
	f.join("conn-b")
	f.loop.Advance(10 * time.Second)

	assert.Equal(0, f.count("conn-d", protocol.EventGroupCallEnded))
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallStarted))
	info, found := f.calls.Session(conversation)
	assert.True(found)
	assert.Equal(StateActive, info.State)
	assert.Empty(f.callLogs(t))
	assert.Equal(0, f.loop.Pending())
}

func TestLastParticipantsLeave(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.join("conn-b")
	f.join("conn-c")
	start := f.loop.Now()
	f.loop.Advance(90 * time.Second)

	f.calls.Leave("conn-a", conversation)
	assert.Equal(0, f.loop.Pending())
	assert.Equal(1, f.count("conn-b", protocol.EventUserLeftCall))

	f.loop.Advance(time.Second)
	f.calls.Leave("conn-b", conversation)
	f.loop.Advance(time.Second)
	f.calls.Disconnect("conn-c")
	f.rooms.Unregister("conn-c")
	assert.Equal(2, f.loop.Pending())

	f.loop.Advance(2 * time.Second)
	assert.Equal(0, f.count("conn-d", protocol.EventGroupCallEnded))

	// The first grace timer sees the empty room, but the room only emptied
	// three seconds ago.
	f.loop.Advance(time.Second)
	assert.Equal(0, f.count("conn-d", protocol.EventGroupCallEnded))

	f.loop.Advance(time.Second)
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallEnded))
	end := f.loop.Now()
	_, found := f.calls.Session(conversation)
	assert.False(found)

	f.loop.Advance(time.Minute)
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallEnded))
	assert.Equal(0, f.loop.Pending())

	logs := f.callLogs(t)
	if assert.Len(logs, 1) {
		assert.Equal(protocol.CallTypeGroup, logs[0].CallType)
		assert.Equal(protocol.CallStatusCompleted, logs[0].Status)
		if assert.NotNil(logs[0].Duration) {
			assert.InDelta(end.Sub(start).Seconds(), *logs[0].Duration, 0.001)
		}
	}
	stored := f.store.MessagesOfType(store.MessageTypeCall)
	assert.Equal("alice", stored[0].SenderID)
}

func TestZombieSessionPurgedOnConversationJoin(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	// The membership vanishes without a teardown reaching the coordinator.
	f.rooms.Leave("conn-a", rooms.CallRoomID(conversation))
	f.loop.Advance(11 * time.Second)

	f.calls.OnConversationJoin("conn-d", conversation)
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallEnded))
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallStarted), "no replay")
	_, found := f.calls.Session(conversation)
	assert.False(found)
	assert.Empty(f.callLogs(t))
}

func TestYoungSessionReplayedOnConversationJoin(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.rooms.Leave("conn-a", rooms.CallRoomID(conversation))
	f.loop.Advance(5 * time.Second)

	f.calls.OnConversationJoin("conn-d", conversation)
	assert.Equal(0, f.count("conn-d", protocol.EventGroupCallEnded))
	assert.Equal(2, f.count("conn-d", protocol.EventGroupCallStarted))

	f.calls.OnConversationJoin("conn-d", "other")
	assert.Equal(2, f.count("conn-d", protocol.EventGroupCallStarted))
}

func TestOldSessionWithMembersReplayed(t *testing.T) {
	f := newFixture(t, Config{})
	f.join("conn-a")
	f.loop.Advance(time.Hour)

	f.calls.OnConversationJoin("conn-d", conversation)
	assert.Equal(t, 2, f.count("conn-d", protocol.EventGroupCallStarted))
	assert.Equal(t, 0, f.count("conn-d", protocol.EventGroupCallEnded))
}

func TestStaleSessionReplacedOnJoin(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.rooms.Leave("conn-a", rooms.CallRoomID(conversation))

	f.join("conn-b")
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallEnded))
	assert.Equal(2, f.count("conn-d", protocol.EventGroupCallStarted))
	info, _ := f.calls.Session(conversation)
	assert.Equal("bob", info.InitiatorID)
}

func TestEndGroupCall(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	f.join("conn-a")
	f.join("conn-b")
	f.loop.Advance(30 * time.Second)

	f.calls.End("conn-b", conversation)
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallEnded))
	_, found := f.calls.Session(conversation)
	assert.False(found)

	logs := f.callLogs(t)
	if assert.Len(logs, 1) {
		assert.InDelta(30, *logs[0].Duration, 0.001)
	}

	f.calls.End("conn-b", conversation)
	f.calls.Leave("conn-a", conversation)
	f.calls.Leave("conn-b", conversation)
	f.loop.Advance(time.Minute)
	assert.Equal(1, f.count("conn-d", protocol.EventGroupCallEnded))
	assert.Len(f.callLogs(t), 1)
}

func TestEndReachesParticipantsOutsideConversation(t *testing.T) {
	f := newFixture(t, Config{})
	f.join("conn-a")
	f.rooms.Leave("conn-a", conversation)

	f.calls.End("conn-a", conversation)
	assert.Equal(t, 1, f.count("conn-a", protocol.EventGroupCallEnded))
}

func TestShortCallIsNotLogged(t *testing.T) {
	f := newFixture(t, Config{})
	f.join("conn-a")
	f.loop.Advance(50 * time.Millisecond)
	f.calls.End("conn-a", conversation)

	assert.Equal(t, 1, f.count("conn-b", protocol.EventGroupCallEnded))
	assert.Empty(t, f.callLogs(t))
}

func TestCallLogSenderFallback(t *testing.T) {
	tests := []struct {
		name     string
		dir      directory
		fallback string
		expected string
	}{
		{
			name:     "user of ending connection",
			dir:      directory{"conn-a": "alice", "conn-b": "bob"},
			expected: "bob",
		},
		{
			name:     "any online user",
			dir:      directory{"conn-x": "xavier"},
			expected: "xavier",
		},
		{
			name:     "configured fallback",
			dir:      directory{},
			fallback: "system",
			expected: "system",
		},
		{
			name: "nobody",
			dir:  directory{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)
			log := zaptest.NewLogger(t)
			lp := loop.NewManual()
			rm := rooms.NewManager(log)
			mem := store.NewMemory()
			for _, id := range []string{"conn-a", "conn-b"} {
				rm.Register(testutil.NewRecordingConn(id))
			}

			calls := NewCoordinator(log, lp, rm, tc.dir, calllog.NewWriter(log, lp, rm, mem, mem, nil), nil, Config{
				FallbackSender: tc.fallback,
			})
			calls.Join("conn-a", protocol.JoinGroupCall{ConversationID: conversation})
			lp.Advance(time.Second)
			calls.End("conn-b", conversation)

			logs := mem.MessagesOfType(store.MessageTypeCall)
			if tc.expected == "" {
				assert.Empty(logs)
				return
			}
			if assert.Len(logs, 1) {
				assert.Equal(tc.expected, logs[0].SenderID)
			}
		})
	}
}

func TestSenderRequiresSomebody(t *testing.T) {
	c := &Coordinator{dir: directory{}}
	_, err := c.sender(&session{}, "conn-a")
	assert.ErrorIs(t, err, ErrNoCallLogSender)
}

func TestAtMostOneSessionPerConversation(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, Config{})
	observer := f.conns["conn-d"]

	steps := []func(){
		func() { f.join("conn-a") },
		func() { f.join("conn-b") },
		func() { f.calls.Leave("conn-a", conversation) },
		func() { f.loop.Advance(2 * time.Second) },
		func() { f.calls.Leave("conn-b", conversation) },
		func() { f.loop.Advance(3 * time.Second) },
		func() { f.join("conn-c") },
		func() { f.loop.Advance(5 * time.Second) },
		func() { f.calls.Leave("conn-c", conversation) },
		func() { f.loop.Advance(5 * time.Second) },
		func() { f.join("conn-a") },
		func() { f.calls.End("conn-a", conversation) },
		func() { f.calls.Leave("conn-a", conversation) },
		func() { f.join("conn-b") },
		func() { f.loop.Advance(time.Minute) },
	}
	for _, step := range steps {
		step()
	}

	active := false
	for _, e := range observer.Events() {
		switch e.Name {
		case protocol.EventGroupCallStarted:
			assert.False(active, "started twice without ended")
			active = true
		case protocol.EventGroupCallEnded:
			active = false
		}
	}
	assert.True(active)
	assert.Equal(1, f.calls.Count())
}
