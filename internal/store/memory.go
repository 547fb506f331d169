package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process implementation of all store interfaces. It is used
// by tests and when no database is configured.
type Memory struct {
	now func() time.Time

	mu            sync.Mutex
	seq           int
	messages      map[string]*memoryMessage
	users         map[string]UserRecord
	conversations map[string]Disappearing
	direct        map[[2]string]string
}

type memoryMessage struct {
	Message
	seq int
}

// UserRecord is the status stored for a user.
type UserRecord struct {
	Status   UserStatus
	LastSeen time.Time
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		messages:      make(map[string]*memoryMessage),
		users:         make(map[string]UserRecord),
		conversations: make(map[string]Disappearing),
		direct:        make(map[[2]string]string),
	}
}

// SetNow replaces the clock used for message timestamps.
func (s *Memory) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Memory) Create(ctx context.Context, conversationID, senderID, content, msgType string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	msg := &memoryMessage{
		Message: Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			SenderID:       senderID,
			Content:        content,
			Type:           msgType,
			CreatedAt:      s.now(),
		},
		seq: s.seq,
	}
	s.messages[msg.ID] = msg
	return copyMessage(&msg.Message), nil
}

func (s *Memory) FindRecent(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*memoryMessage
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			found = append(found, msg)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].seq > found[j].seq
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}

	result := make([]*Message, 0, len(found))
	for _, msg := range found {
		result = append(result, copyMessage(&msg.Message))
	}
	return result, nil
}

func (s *Memory) AppendIfAbsent(ctx context.Context, messageID string, field AckField, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, found := s.messages[messageID]
	if !found {
		return false, ErrNotFound
	}
	if msg.Acknowledged(field, userID) {
		return false, nil
	}
	switch field {
	case SeenBy:
		msg.SeenBy = append(msg.SeenBy, userID)
	case DeliveredTo:
		msg.DeliveredTo = append(msg.DeliveredTo, userID)
	default:
		return false, ErrNotFound
	}
	return true, nil
}

// Get returns a copy of a stored message.
func (s *Memory) Get(messageID string) (*Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, found := s.messages[messageID]
	if !found {
		return nil, false
	}
	return copyMessage(&msg.Message), true
}

// MessagesOfType returns all messages of the given type in creation order.
func (s *Memory) MessagesOfType(msgType string) []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*memoryMessage
	for _, msg := range s.messages {
		if msg.Type == msgType {
			found = append(found, msg)
		}
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].seq < found[j].seq
	})
	result := make([]*Message, 0, len(found))
	for _, msg := range found {
		result = append(result, copyMessage(&msg.Message))
	}
	return result
}

func (s *Memory) SetStatus(ctx context.Context, userID string, status UserStatus, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[userID] = UserRecord{
		Status:   status,
		LastSeen: lastSeen,
	}
	return nil
}

// User returns the stored status of a user.
func (s *Memory) User(userID string) (UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, found := s.users[userID]
	return record, found
}

func (s *Memory) Disappearing(ctx context.Context, conversationID string) (Disappearing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	setting, found := s.conversations[conversationID]
	if !found {
		return Disappearing{}, ErrNotFound
	}
	return setting, nil
}

// SetDisappearing stores the disappearing-messages setting of a conversation.
func (s *Memory) SetDisappearing(conversationID string, setting Disappearing) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conversationID] = setting
}

func directKey(userA, userB string) [2]string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return [2]string{userA, userB}
}

func (s *Memory) DirectConversation(ctx context.Context, userA, userB string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversationID, found := s.direct[directKey(userA, userB)]
	if !found {
		return "", ErrNotFound
	}
	return conversationID, nil
}

// SetDirectConversation records the one-to-one conversation of two users.
func (s *Memory) SetDirectConversation(userA, userB, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.direct[directKey(userA, userB)] = conversationID
}

// Stores returns the memory store wired as every collaborator.
func (s *Memory) Stores() Stores {
	return Stores{
		Messages:      s,
		Users:         s,
		Conversations: s,
	}
}

func copyMessage(msg *Message) *Message {
	c := *msg
	c.SeenBy = slices.Clone(msg.SeenBy)
	c.DeliveredTo = slices.Clone(msg.DeliveredTo)
	return &c
}
