// Package receipts marks recent messages of a conversation as seen or
// delivered for a user and tells the conversation room about it.
package receipts

import (
	"context"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
	"github.com/Tyrowin/gochat-hub/internal/store"
)

const (
	DefaultSeenWindow      = 50
	DefaultDeliveredWindow = 20
)

// Reconciler marks recent messages of a conversation as seen or delivered
// and announces the change to the conversation.
type Reconciler struct {
	log      *zap.Logger
	loop     loop.Loop
	rooms    *rooms.Manager
	messages store.MessageStore

	seenWindow      int
	deliveredWindow int
}

// NewReconciler creates a reconciler. Windows of zero use the defaults.
func NewReconciler(log *zap.Logger, lp loop.Loop, rm *rooms.Manager, messages store.MessageStore, seenWindow, deliveredWindow int) *Reconciler {
	if seenWindow <= 0 {
		seenWindow = DefaultSeenWindow
	}
	if deliveredWindow <= 0 {
		deliveredWindow = DefaultDeliveredWindow
	}
	return &Reconciler{
		log:             log.With(zap.String("component", "receipts")),
		loop:            lp,
		rooms:           rm,
		messages:        messages,
		seenWindow:      seenWindow,
		deliveredWindow: deliveredWindow,
	}
}

// MarkSeen adds userID to the seen set of the most recent messages of the
// conversation that were sent by somebody else.
func (r *Reconciler) MarkSeen(conversationID, userID string) {
	r.mark(conversationID, userID, store.SeenBy, r.seenWindow, protocol.EventMessagesSeen)
}

// MarkDelivered adds userID to the delivered set of the most recent messages
// of the conversation that were sent by somebody else.
func (r *Reconciler) MarkDelivered(conversationID, userID string) {
	r.mark(conversationID, userID, store.DeliveredTo, r.deliveredWindow, protocol.EventMessagesDelivered)
}

func (r *Reconciler) mark(conversationID, userID string, field store.AckField, window int, event string) {
	if conversationID == "" || userID == "" {
		r.log.Debug("Ignoring receipt without conversation or user",
			zap.String("field", string(field)),
			zap.String("conversation", conversationID),
			zap.String("user", userID),
		)
		return
	}

	r.loop.Go(func(ctx context.Context) {
		changed := r.apply(ctx, conversationID, userID, field, window)
		if changed == 0 {
			return
		}
		statsAcknowledged.WithLabelValues(string(field)).Add(float64(changed))
		r.loop.Post(func() {
			r.rooms.Broadcast(conversationID, event, protocol.ConversationUser{
				ConversationID: conversationID,
				UserID:         userID,
			})
		})
	})
}

// apply runs off the loop and returns the number of messages that changed.
func (r *Reconciler) apply(ctx context.Context, conversationID, userID string, field store.AckField, window int) int {
	recent, err := r.messages.FindRecent(ctx, conversationID, window)
	if err != nil {
		statsFailures.WithLabelValues(string(field)).Inc()
		r.log.Error("Could not load recent messages",
			zap.String("conversation", conversationID),
			zap.String("field", string(field)),
			zap.Error(err),
		)
		return 0
	}

	changed := 0
	for _, msg := range recent {
		if msg.SenderID == userID || msg.Acknowledged(field, userID) {
			continue
		}
		updated, err := r.messages.AppendIfAbsent(ctx, msg.ID, field, userID)
		if err != nil {
			statsFailures.WithLabelValues(string(field)).Inc()
			r.log.Error("Could not update acknowledgment",
				zap.String("message", msg.ID),
				zap.String("field", string(field)),
				zap.String("user", userID),
				zap.Error(err),
			)
			continue
		}
		if updated {
			changed++
		}
	}
	return changed
}
