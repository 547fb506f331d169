package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gammazero/deque"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
	"github.com/Tyrowin/gochat-hub/internal/store"
)

var (
	errInvalidMessage = errors.New("message must be an object")
)

type pendingMessage struct {
	from    string
	payload map[string]json.RawMessage
}

// messageRelay fans chat messages out to their conversation. The
// disappearing-messages setting is looked up off the loop, one message per
// conversation at a time, so messages keep the order they were sent in.
type messageRelay struct {
	log           *zap.Logger
	loop          loop.Loop
	rooms         *rooms.Manager
	conversations store.ConversationStore

	queues map[string]*deque.Deque[pendingMessage]
}

func newMessageRelay(log *zap.Logger, lp loop.Loop, rm *rooms.Manager, conversations store.ConversationStore) *messageRelay {
	return &messageRelay{
		log:           log.With(zap.String("component", "relay")),
		loop:          lp,
		rooms:         rm,
		conversations: conversations,
		queues:        make(map[string]*deque.Deque[pendingMessage]),
	}
}

func (r *messageRelay) Relay(from string, data json.RawMessage) error {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(data, &payload); err != nil || payload == nil {
		return errInvalidMessage
	}
	var conversationID string
	if err := json.Unmarshal(payload["conversationId"], &conversationID); err != nil || conversationID == "" {
		return errMissingConversation
	}

	queue, found := r.queues[conversationID]
	if !found {
		queue = &deque.Deque[pendingMessage]{}
		r.queues[conversationID] = queue
	}
	queue.PushBack(pendingMessage{
		from:    from,
		payload: payload,
	})
	if queue.Len() == 1 {
		r.next(conversationID, queue)
	}
	return nil
}

func (r *messageRelay) next(conversationID string, queue *deque.Deque[pendingMessage]) {
	msg := queue.Front()
	r.loop.Go(func(ctx context.Context) {
		setting, err := r.conversations.Disappearing(ctx, conversationID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			r.log.Error("Could not load disappearing messages setting",
				zap.String("conversation", conversationID),
				zap.Error(err),
			)
		}

		r.loop.Post(func() {
			r.deliver(conversationID, msg, setting)
			queue.PopFront()
			if queue.Len() == 0 {
				delete(r.queues, conversationID)
				return
			}
			r.next(conversationID, queue)
		})
	})
}

func (r *messageRelay) deliver(conversationID string, msg pendingMessage, setting store.Disappearing) {
	if setting.Enabled && setting.TTL > 0 {
		expiresAt, err := json.Marshal(r.loop.Now().Add(setting.TTL))
		if err == nil {
			msg.payload["expiresAt"] = expiresAt
		}
	}
	statsMessagesRelayed.Inc()
	r.rooms.Broadcast(conversationID, protocol.EventReceiveMessage, msg.payload, msg.from)
}

// Pending returns the number of conversations with messages in flight.
func (r *messageRelay) Pending() int {
	return len(r.queues)
}
