// Package testutil provides helpers shared by the hub package tests: an
// in-memory connection that records the events it receives and websocket
// helpers for end-to-end tests against an httptest server.
package testutil

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

// Event is a decoded frame received by a RecordingConn.
type Event struct {
	Name string
	Data json.RawMessage
}

// Decode unmarshals the event payload into v and fails the test on error.
func (e Event) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v), "decoding %s", e.Name)
}

// RecordingConn is a connection that stores every frame sent to it.
type RecordingConn struct {
	id string

	mu     sync.Mutex
	events []Event
	// Full makes Send fail as if the outgoing buffer was exhausted.
	Full bool
}

func NewRecordingConn(id string) *RecordingConn {
	return &RecordingConn{id: id}
}

func (c *RecordingConn) ID() string {
	return c.id
}

func (c *RecordingConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Full {
		return false
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		panic(err)
	}
	c.events = append(c.events, Event{Name: env.Event, Data: env.Data})
	return true
}

// Events returns all recorded events.
func (c *RecordingConn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]Event(nil), c.events...)
}

// Named returns the recorded events with the given name.
func (c *RecordingConn) Named(name string) []Event {
	var result []Event
	for _, e := range c.Events() {
		if e.Name == name {
			result = append(result, e)
		}
	}
	return result
}

// Names returns the names of all recorded events in order.
func (c *RecordingConn) Names() []string {
	var result []string
	for _, e := range c.Events() {
		result = append(result, e.Name)
	}
	return result
}

// Last returns the most recent event with the given name and fails the test
// if there is none.
func (c *RecordingConn) Last(t *testing.T, name string) Event {
	t.Helper()
	events := c.Named(name)
	require.NotEmpty(t, events, "no %s event received by %s", name, c.id)
	return events[len(events)-1]
}

// Reset forgets all recorded events.
func (c *RecordingConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = nil
}
