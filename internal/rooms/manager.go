// Package rooms keeps the ephemeral room membership used for event fan-out.
//
// Two kinds of rooms exist: conversation rooms, named by the conversation id,
// and call rooms, named "call_<conversationId>", holding the connections that
// currently take part in a group call mesh.
package rooms

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

const callRoomPrefix = "call_"

// CallRoomID returns the call room name for a conversation.
func CallRoomID(conversationID string) string {
	return callRoomPrefix + conversationID
}

// ConversationOfCallRoom returns the conversation of a call room name.
func ConversationOfCallRoom(roomID string) (string, bool) {
	conversationID, found := strings.CutPrefix(roomID, callRoomPrefix)
	if !found || conversationID == "" {
		return "", false
	}
	return conversationID, true
}

// Conn is a connection events can be delivered to.
type Conn interface {
	ID() string
	// Send queues an encoded frame, returning false if it could not be queued.
	Send(frame []byte) bool
}

type room struct {
	order   []string
	members map[string]Conn
}

// Manager tracks connections and their room memberships. Mutations happen on
// the hub loop; the lock only guards concurrent readers such as the stats
// endpoint.
type Manager struct {
	log *zap.Logger

	mu          sync.RWMutex
	conns       map[string]Conn
	rooms       map[string]*room
	memberships map[string]map[string]struct{}
}

// NewManager creates an empty room manager.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		log:         log.With(zap.String("component", "rooms")),
		conns:       make(map[string]Conn),
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Register makes a connection addressable by its id.
func (m *Manager) Register(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conns[conn.ID()] = conn
}

// Unregister removes a connection and drops all of its memberships. The rooms
// it was a member of are returned.
func (m *Manager) Unregister(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	left := m.roomsOfLocked(connID)
	for _, roomID := range left {
		m.leaveLocked(connID, roomID)
	}
	delete(m.memberships, connID)
	delete(m.conns, connID)
	return left
}

// Conn returns a registered connection.
func (m *Manager) Conn(connID string) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, found := m.conns[connID]
	return conn, found
}

// Join adds a registered connection to a room. It returns false if the
// connection is unknown or already a member.
func (m *Manager) Join(connID, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, found := m.conns[connID]
	if !found {
		return false
	}

	r, found := m.rooms[roomID]
	if !found {
		r = &room{
			members: make(map[string]Conn),
		}
		m.rooms[roomID] = r
	}
	if _, member := r.members[connID]; member {
		return false
	}
	r.members[connID] = conn
	r.order = append(r.order, connID)

	joined, found := m.memberships[connID]
	if !found {
		joined = make(map[string]struct{})
		m.memberships[connID] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

// Leave removes a connection from a room, returning false if it was no member.
func (m *Manager) Leave(connID, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.leaveLocked(connID, roomID)
}

func (m *Manager) leaveLocked(connID, roomID string) bool {
	r, found := m.rooms[roomID]
	if !found {
		return false
	}
	if _, member := r.members[connID]; !member {
		return false
	}

	delete(r.members, connID)
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if len(r.members) == 0 {
		delete(m.rooms, roomID)
	}
	if joined, found := m.memberships[connID]; found {
		delete(joined, roomID)
	}
	return true
}

// Members returns the connection ids of a room in join order.
func (m *Manager) Members(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, found := m.rooms[roomID]
	if !found {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Size returns the number of members of a room.
func (m *Manager) Size(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, found := m.rooms[roomID]; found {
		return len(r.members)
	}
	return 0
}

// IsMember reports whether a connection is in a room.
func (m *Manager) IsMember(connID, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if r, found := m.rooms[roomID]; found {
		_, member := r.members[connID]
		return member
	}
	return false
}

// RoomsOf returns the sorted room ids a connection is a member of.
func (m *Manager) RoomsOf(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.roomsOfLocked(connID)
}

func (m *Manager) roomsOfLocked(connID string) []string {
	joined := m.memberships[connID]
	result := make([]string, 0, len(joined))
	for roomID := range joined {
		result = append(result, roomID)
	}
	sort.Strings(result)
	return result
}

// ConnCount returns the number of registered connections.
func (m *Manager) ConnCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.conns)
}

// RoomCount returns the number of non-empty rooms.
func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.rooms)
}

// Broadcast sends an event to every member of a room except the excluded
// connections. Delivery is fire-and-forget; the number of queued frames is
// returned.
func (m *Manager) Broadcast(roomID, event string, data any, exclude ...string) int {
	m.mu.RLock()
	r, found := m.rooms[roomID]
	var targets []Conn
	if found {
		targets = make([]Conn, 0, len(r.order))
		for _, id := range r.order {
			if !excluded(id, exclude) {
				targets = append(targets, r.members[id])
			}
		}
	}
	m.mu.RUnlock()

	return m.deliver(targets, event, data)
}

// BroadcastAll sends an event to every registered connection except the
// excluded ones.
func (m *Manager) BroadcastAll(event string, data any, exclude ...string) int {
	m.mu.RLock()
	targets := make([]Conn, 0, len(m.conns))
	for id, conn := range m.conns {
		if !excluded(id, exclude) {
			targets = append(targets, conn)
		}
	}
	m.mu.RUnlock()

	return m.deliver(targets, event, data)
}

// SendTo delivers an event to a single connection.
func (m *Manager) SendTo(connID, event string, data any) bool {
	conn, found := m.Conn(connID)
	if !found {
		m.log.Debug("Dropping event for unknown connection",
			zap.String("event", event),
			zap.String("conn", connID),
		)
		return false
	}
	return m.deliver([]Conn{conn}, event, data) == 1
}

func (m *Manager) deliver(targets []Conn, event string, data any) int {
	if len(targets) == 0 {
		return 0
	}

	frame, err := protocol.Encode(event, data)
	if err != nil {
		m.log.Error("Could not encode event",
			zap.String("event", event),
			zap.Error(err),
		)
		return 0
	}

	sent := 0
	for _, conn := range targets {
		if conn.Send(frame) {
			sent++
		} else {
			m.log.Warn("Could not queue event",
				zap.String("event", event),
				zap.String("conn", conn.ID()),
			)
		}
	}
	return sent
}

func excluded(id string, exclude []string) bool {
	for _, e := range exclude {
		if e == id {
			return true
		}
	}
	return false
}
