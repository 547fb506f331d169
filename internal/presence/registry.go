// Package presence maps each online user to its single live connection.
//
// A user has at most one connection: connecting again replaces the previous
// entry, and only the disconnect of the currently mapped connection takes the
// user offline. A stale connection closing after its user reconnected
// elsewhere is ignored.
package presence

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/events"
	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
	"github.com/Tyrowin/gochat-hub/internal/store"
)

// Registry maps users to their current connection and announces presence
// changes. It must only be used on the loop.
type Registry struct {
	log    *zap.Logger
	loop   loop.Loop
	rooms  *rooms.Manager
	users  store.UserStore
	events events.Publisher

	byUser map[string]string
	byConn map[string]string
}

// NewRegistry creates a registry. A nil publisher discards events.
func NewRegistry(log *zap.Logger, lp loop.Loop, rm *rooms.Manager, users store.UserStore, publisher events.Publisher) *Registry {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Registry{
		log:    log.With(zap.String("component", "presence")),
		loop:   lp,
		rooms:  rm,
		users:  users,
		events: publisher,
		byUser: make(map[string]string),
		byConn: make(map[string]string),
	}
}

// Connect maps userID to connID and announces the user as online to every
// connection, even if it already was online.
func (r *Registry) Connect(userID, connID string) {
	if previous, found := r.byUser[userID]; found && previous != connID {
		delete(r.byConn, previous)
		r.log.Debug("Connection superseded",
			zap.String("user", userID),
			zap.String("previous", previous),
			zap.String("conn", connID),
		)
	}
	if other, found := r.byConn[connID]; found && other != userID && r.byUser[other] == connID {
		delete(r.byUser, other)
	}

	r.byUser[userID] = connID
	r.byConn[connID] = userID
	statsOnlineUsers.Set(float64(len(r.byUser)))

	r.rooms.BroadcastAll(protocol.EventUserOnline, userID)
	now := r.loop.Now()
	r.persist(userID, store.StatusOnline, now)
	r.publish(events.SubjectUserOnline, protocol.ConversationUser{UserID: userID})
}

// Disconnect removes the entry of connID if it is still the current
// connection of its user. The user id is returned if the user went offline.
func (r *Registry) Disconnect(connID string) (string, bool) {
	userID, found := r.byConn[connID]
	if !found {
		return "", false
	}
	delete(r.byConn, connID)
	if r.byUser[userID] != connID {
		return "", false
	}
	delete(r.byUser, userID)
	statsOnlineUsers.Set(float64(len(r.byUser)))

	lastSeen := r.loop.Now()
	r.persist(userID, store.StatusOffline, lastSeen)

	offline := protocol.UserOffline{
		UserID:   userID,
		LastSeen: lastSeen,
	}
	r.rooms.BroadcastAll(protocol.EventUserOffline, offline, connID)
	r.publish(events.SubjectUserOffline, offline)
	return userID, true
}

func (r *Registry) persist(userID string, status store.UserStatus, at time.Time) {
	r.loop.Go(func(ctx context.Context) {
		if err := r.users.SetStatus(ctx, userID, status, at); err != nil {
			statsPersistenceFailures.Inc()
			r.log.Error("Could not persist user status",
				zap.String("user", userID),
				zap.String("status", string(status)),
				zap.Error(err),
			)
		}
	})
}

func (r *Registry) publish(subject string, payload any) {
	r.loop.Go(func(context.Context) {
		if err := r.events.Publish(subject, payload); err != nil {
			r.log.Warn("Could not publish presence event",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	})
}

// ConnFor returns the live connection of a user.
func (r *Registry) ConnFor(userID string) (string, bool) {
	connID, found := r.byUser[userID]
	return connID, found
}

// UserFor returns the user whose current connection is connID.
func (r *Registry) UserFor(connID string) (string, bool) {
	userID, found := r.byConn[connID]
	if !found || r.byUser[userID] != connID {
		return "", false
	}
	return userID, true
}

// IsOnline reports whether a user has a connection.
func (r *Registry) IsOnline(userID string) bool {
	_, found := r.byUser[userID]
	return found
}

// AnyOnline returns some online user, choosing the smallest id so the result
// is deterministic.
func (r *Registry) AnyOnline() (string, bool) {
	if len(r.byUser) == 0 {
		return "", false
	}
	ids := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0], true
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	return len(r.byUser)
}
