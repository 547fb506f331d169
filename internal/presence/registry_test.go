package presence

import (
	"context"
	"errors"
	"testing"
	"time"

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

type fixture struct {
	loop     *loop.Manual
	rooms    *rooms.Manager
	store    *store.Memory
	registry *Registry
	conns    map[string]*testutil.RecordingConn
}

func newFixture(t *testing.T, users store.UserStore, ids ...string) *fixture {
	f := &fixture{
		loop:  loop.NewManual(),
		rooms: rooms.NewManager(zaptest.NewLogger(t)),
		store: store.NewMemory(),
		conns: make(map[string]*testutil.RecordingConn),
	}
	if users == nil {
		users = f.store
	}
	f.registry = NewRegistry(zaptest.NewLogger(t), f.loop, f.rooms, users, events.Noop{})
	for _, id := range ids {
		conn := testutil.NewRecordingConn(id)
		f.conns[id] = conn
		f.rooms.Register(conn)
	}
	return f
}

func TestConnectBroadcastsOnline(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, nil, "c1", "c2")
	f.registry.Connect("alice", "c1")
	f.registry.Connect("alice", "c1")

	for _, conn := range f.conns {
		online := conn.Named(protocol.EventUserOnline)
		if assert.Len(online, 2, "no dedup against already online") {
			var userID string
			online[0].Decode(t, &userID)
			assert.Equal("alice", userID)
		}
	}

	connID, found := f.registry.ConnFor("alice")
	assert.True(found)
	assert.Equal("c1", connID)
	record, found := f.store.User("alice")
	assert.True(found)
	assert.Equal(store.StatusOnline, record.Status)
}

func TestDisconnectBroadcastsOffline(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, nil, "c1", "c2")
	f.registry.Connect("alice", "c1")
	f.loop.Advance(time.Minute)

	userID, offline := f.registry.Disconnect("c1")
	assert.True(offline)
	assert.Equal("alice", userID)
	assert.False(f.registry.IsOnline("alice"))

	assert.Empty(f.conns["c1"].Named(protocol.EventUserOffline))
	var payload protocol.UserOffline
	f.conns["c2"].Last(t, protocol.EventUserOffline).Decode(t, &payload)
	assert.Equal("alice", payload.UserID)
	assert.False(payload.LastSeen.After(f.loop.Now()))

	record, found := f.store.User("alice")
	if assert.True(found) {
		assert.Equal(store.StatusOffline, record.Status)
		assert.True(record.LastSeen.Equal(payload.LastSeen))
	}
}

func TestStaleDisconnectIsIgnored(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, nil, "old", "new", "observer")
	f.registry.Connect("alice", "old")
	f.registry.Connect("alice", "new")

	_, offline := f.registry.Disconnect("old")
	assert.False(offline)
	assert.Empty(f.conns["observer"].Named(protocol.EventUserOffline))

	connID, found := f.registry.ConnFor("alice")
	assert.True(found)
	assert.Equal("new", connID)
	_, found = f.registry.UserFor("old")
	assert.False(found)

	_, offline = f.registry.Disconnect("new")
	assert.True(offline)
	assert.Len(f.conns["observer"].Named(protocol.EventUserOffline), 1)
}

func TestConnectionSwitchesUser(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, nil, "c1")
	f.registry.Connect("alice", "c1")
	f.registry.Connect("bob", "c1")

	assert.False(f.registry.IsOnline("alice"))
	userID, found := f.registry.UserFor("c1")
	assert.True(found)
	assert.Equal("bob", userID)
	assert.Equal(1, f.registry.Count())
}

func TestAnyOnline(t *testing.T) {
	assert := assert.New(t)

	f := newFixture(t, nil, "c1", "c2")
	_, found := f.registry.AnyOnline()
	assert.False(found)

	f.registry.Connect("zoe", "c1")
	f.registry.Connect("adam", "c2")
	userID, found := f.registry.AnyOnline()
	assert.True(found)
	assert.Equal("adam", userID)
}

type failingUsers struct {
	calls int
}

func (u *failingUsers) SetStatus(ctx context.Context, userID string, status store.UserStatus, lastSeen time.Time) error {
	u.calls++
	return errors.New("database unavailable")
}

func TestPersistenceFailureDoesNotBlockBroadcast(t *testing.T) {
	require := require.New(t)

	users := &failingUsers{}
	f := newFixture(t, users, "c1", "c2")
	f.registry.Connect("alice", "c1")
	_, offline := f.registry.Disconnect("c1")

	require.True(offline)
	require.Equal(2, users.calls)
	require.Len(f.conns["c2"].Named(protocol.EventUserOffline), 1)
}
