// Package calllog persists call summaries as "call" messages of a
// conversation.
package calllog

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/events"
	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
	"github.com/Tyrowin/gochat-hub/internal/store"
)

// Entry is one call log. Without a conversation id the log goes to the
// direct conversation of the sender and PeerID.
type Entry struct {
	ConversationID string           `json:"conversationId"`
	SenderID       string           `json:"senderId"`
	PeerID         string           `json:"-"`
	Log            protocol.CallLog `json:"log"`
}

// Writer stores call logs off the loop and announces the created message to
// the conversation room.
type Writer struct {
	log      *zap.Logger
	loop     loop.Loop
	rooms         *rooms.Manager
	messages      store.MessageStore
	conversations store.ConversationStore
	events        events.Publisher
}

// NewWriter creates a writer. Without a conversation store entries need a
// conversation id.
func NewWriter(log *zap.Logger, lp loop.Loop, rm *rooms.Manager, messages store.MessageStore, conversations store.ConversationStore, publisher events.Publisher) *Writer {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Writer{
		log:           log.With(zap.String("component", "calllog")),
		loop:          lp,
		rooms:         rm,
		messages:      messages,
		conversations: conversations,
		events:        publisher,
	}
}

// Duration converts seconds to the nullable duration of a call log.
func Duration(seconds float64) *float64 {
	return &seconds
}

// Write stores the entry off the loop.
func (w *Writer) Write(entry Entry) {
	content, err := json.Marshal(entry.Log)
	if err != nil {
		w.log.Error("Could not encode call log", zap.Error(err))
		return
	}

	w.loop.Go(func(ctx context.Context) {
		if entry.ConversationID == "" {
			conversationID, err := w.directConversation(ctx, entry)
			if err != nil {
				w.log.Debug("Not logging call without conversation",
					zap.String("sender", entry.SenderID),
					zap.String("peer", entry.PeerID),
					zap.String("status", entry.Log.Status),
					zap.Error(err),
				)
				return
			}
			entry.ConversationID = conversationID
		}

		msg, err := w.messages.Create(ctx, entry.ConversationID, entry.SenderID, string(content), store.MessageTypeCall)
		if err != nil {
			statsFailures.Inc()
			w.log.Error("Could not store call log",
				zap.String("conversation", entry.ConversationID),
				zap.String("sender", entry.SenderID),
				zap.String("status", entry.Log.Status),
				zap.Error(err),
			)
			return
		}

		statsWritten.WithLabelValues(entry.Log.CallType, entry.Log.Status).Inc()
		if err := w.events.Publish(events.SubjectCallLogged, entry); err != nil {
			w.log.Warn("Could not publish call log event", zap.Error(err))
		}
		w.loop.Post(func() {
			w.rooms.Broadcast(entry.ConversationID, protocol.EventReceiveMessage, msg)
		})
	})
}

func (w *Writer) directConversation(ctx context.Context, entry Entry) (string, error) {
	if w.conversations == nil || entry.SenderID == "" || entry.PeerID == "" {
		return "", store.ErrNotFound
	}
	return w.conversations.DirectConversation(ctx, entry.SenderID, entry.PeerID)
}
