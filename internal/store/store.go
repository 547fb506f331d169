// Package store defines the persistence collaborators the hub depends on and
// provides in-memory, MongoDB and Redis implementations.
package store

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned when a referenced document does not exist.
	ErrNotFound = errors.New("not found")
)

// AckField names an acknowledgment set on a message.
type AckField string

const (
	SeenBy      AckField = "seenBy"
	DeliveredTo AckField = "deliveredTo"
)

// UserStatus is the persisted presence status of a user.
type UserStatus string

const (
	StatusOnline  UserStatus = "online"
	StatusOffline UserStatus = "offline"
)

// Message types created by the hub.
const (
	MessageTypeText = "text"
	MessageTypeCall = "call"
)

// Message is a stored chat message.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversationId" json:"conversationId"`
	SenderID       string    `bson:"senderId" json:"senderId"`
	Content        string    `bson:"content" json:"content"`
	Type           string    `bson:"type" json:"type"`
	SeenBy         []string  `bson:"seenBy" json:"seenBy"`
	DeliveredTo    []string  `bson:"deliveredTo" json:"deliveredTo"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
}

// Acknowledged reports whether userID is already part of the given set.
func (m *Message) Acknowledged(field AckField, userID string) bool {
	switch field {
	case SeenBy:
		return slices.Contains(m.SeenBy, userID)
	case DeliveredTo:
		return slices.Contains(m.DeliveredTo, userID)
	default:
		return false
	}
}

// MessageStore persists chat messages and their acknowledgment sets.
type MessageStore interface {
	Create(ctx context.Context, conversationID, senderID, content, msgType string) (*Message, error)
	// FindRecent returns up to limit messages of a conversation, newest first.
	FindRecent(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	// AppendIfAbsent adds userID to the acknowledgment set of a message. It
	// reports whether the set changed.
	AppendIfAbsent(ctx context.Context, messageID string, field AckField, userID string) (bool, error)
}

// UserStore persists presence status.
type UserStore interface {
	SetStatus(ctx context.Context, userID string, status UserStatus, lastSeen time.Time) error
}

// Disappearing is the disappearing-messages setting of a conversation.
type Disappearing struct {
	Enabled bool
	TTL     time.Duration
}

// ConversationStore gives read access to conversations.
type ConversationStore interface {
	Disappearing(ctx context.Context, conversationID string) (Disappearing, error)
	// DirectConversation returns the id of the one-to-one conversation of
	// two users, or ErrNotFound.
	DirectConversation(ctx context.Context, userA, userB string) (string, error)
}

// Stores bundles the collaborators used by the hub.
type Stores struct {
	Messages      MessageStore
	Users         UserStore
	Conversations ConversationStore
}
