package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMissingEvent is returned for frames without an event name.
	ErrMissingEvent = errors.New("missing event name")
	// ErrUnknownEvent is returned when no handler exists for an event.
	ErrUnknownEvent = errors.New("unknown event")
	// ErrRateLimited is reported when frames of a connection are discarded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Envelope is a single websocket text frame: the event name plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outgoing event.
func Encode(event string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses an incoming frame.
func Decode(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, ErrMissingEvent
	}
	return &env, nil
}

// EventName returns the event name of a frame, or "" if it has none.
func EventName(frame []byte) string {
	var head struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return ""
	}
	return head.Event
}

// DecodeData unmarshals the payload of an envelope into v.
func (e *Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// DecodeID accepts either a bare JSON string or an object carrying the id in
// one of the given keys. join_room(userId) and leave_group_call(conversationId)
// are sent both ways by existing clients.
func (e *Envelope) DecodeID(keys ...string) (string, error) {
	var id string
	if err := json.Unmarshal(e.Data, &id); err == nil {
		if id == "" {
			return "", fmt.Errorf("%s: empty id", e.Event)
		}
		return id, nil
	}

	var obj map[string]json.RawMessage
	if err := e.DecodeData(&obj); err != nil {
		return "", err
	}
	for _, key := range keys {
		raw, found := obj[key]
		if !found {
			continue
		}
		if err := json.Unmarshal(raw, &id); err == nil && id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("%s: no id in payload", e.Event)
}
