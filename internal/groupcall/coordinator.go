// Package groupcall manages full-mesh group calls.
//
// A session is recorded per conversation while its call room is in use. The
// call room holds the connections that are part of the mesh; the session is
// the logical record announced to the conversation. Both can diverge, so
// teardown never trusts captured state: when the call room is about to become
// empty a grace timer is scheduled which always fires and re-reads the current
// membership, and a session found without members once it is old enough is
// purged when somebody joins the conversation.
package groupcall

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/calllog"
	"github.com/Tyrowin/gochat-hub/internal/events"
	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
)

// Defaults applied to a zero Config.
const (
	DefaultGracePeriod = 4 * time.Second
	DefaultZombieAge   = 10 * time.Second
	DefaultMinDuration = 100 * time.Millisecond
)

var (
	// ErrNoCallLogSender is returned when no user id is available to author
	// the call log of a finished session.
	ErrNoCallLogSender = errors.New("no user available as call log sender")
)

// State is the state of a recorded session.
type State int

const (
	StateActive State = iota
	StateGracePeriod
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateGracePeriod:
		return "grace"
	default:
		return "unknown"
	}
}

// Directory resolves connections to users.
type Directory interface {
	UserFor(connID string) (string, bool)
	AnyOnline() (string, bool)
}

// Config holds the timing of group call teardown.
type Config struct {
	GracePeriod time.Duration
	ZombieAge   time.Duration
	MinDuration time.Duration
	// FallbackSender authors call logs when no other user is available.
	FallbackSender string
}

func (c *Config) sanitize() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.ZombieAge <= 0 {
		c.ZombieAge = DefaultZombieAge
	}
	if c.MinDuration <= 0 {
		c.MinDuration = DefaultMinDuration
	}
}

type session struct {
	conversationID string
	initiatorID    string
	initiatorConn  string
	startTime      time.Time
	state          State
	// emptiedAt is when the call room last dropped to one member or fewer.
	emptiedAt time.Time
}

func (s *session) started() protocol.GroupCallStarted {
	return protocol.GroupCallStarted{
		ConversationID: s.conversationID,
		InitiatorID:    s.initiatorID,
		FromSocketID:   s.initiatorConn,
		StartTime:      s.startTime,
	}
}

// Info is a snapshot of a recorded session.
type Info struct {
	ConversationID string
	InitiatorID    string
	StartTime      time.Time
	State          State
}

// Coordinator owns the group call sessions. It must only be used on the loop.
type Coordinator struct {
	log      *zap.Logger
	loop     loop.Loop
	rooms    *rooms.Manager
	dir      Directory
	calllogs *calllog.Writer
	events   events.Publisher
	config   Config

	sessions map[string]*session
}

// NewCoordinator creates a coordinator. A nil publisher discards events.
func NewCoordinator(log *zap.Logger, lp loop.Loop, rm *rooms.Manager, dir Directory, calllogs *calllog.Writer, publisher events.Publisher, config Config) *Coordinator {
	config.sanitize()
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Coordinator{
		log:      log.With(zap.String("component", "groupcall")),
		loop:     lp,
		rooms:    rm,
		dir:      dir,
		calllogs: calllogs,
		events:   publisher,
		config:   config,
		sessions: make(map[string]*session),
	}
}

// Join adds a connection to the call room of a conversation. The joiner
// receives the connections already in the call so it can offer to each of
// them. Joining an empty call room starts a session.
func (c *Coordinator) Join(connID string, req protocol.JoinGroupCall) {
	if req.ConversationID == "" {
		c.log.Debug("Ignoring group call join without conversation", zap.String("conn", connID))
		return
	}
	callRoom := rooms.CallRoomID(req.ConversationID)
	if c.rooms.IsMember(connID, callRoom) {
		c.log.Debug("Already in group call",
			zap.String("conn", connID),
			zap.String("conversation", req.ConversationID),
		)
		return
	}

	others := c.rooms.Members(callRoom)
	peers := make([]protocol.CallPeer, 0, len(others))
	for _, other := range others {
		userID, _ := c.dir.UserFor(other)
		peers = append(peers, protocol.CallPeer{
			SocketID: other,
			UserID:   userID,
		})
	}

	sess, found := c.sessions[req.ConversationID]
	if found && len(others) == 0 && sess.state == StateActive {
		// Nobody is in the call and no grace period is running, so the
		// session was never torn down.
		c.remove(sess, "zombie")
		found = false
	}
	switch {
	case found:
		if sess.state == StateGracePeriod {
			c.log.Debug("Group call resumed",
				zap.String("conversation", req.ConversationID),
				zap.String("conn", connID),
			)
		}
		sess.state = StateActive
	case len(others) == 0:
		c.start(connID, req)
	}

	c.rooms.Join(connID, callRoom)
	c.rooms.SendTo(connID, protocol.EventAllUsersInCall, peers)
}

func (c *Coordinator) start(connID string, req protocol.JoinGroupCall) {
	sess := &session{
		conversationID: req.ConversationID,
		initiatorID:    req.UserID,
		initiatorConn:  connID,
		startTime:      c.loop.Now(),
		state:          StateActive,
	}
	c.sessions[req.ConversationID] = sess
	statsSessionsStarted.Inc()
	statsSessions.Set(float64(len(c.sessions)))

	c.log.Info("Group call started",
		zap.String("conversation", req.ConversationID),
		zap.String("initiator", req.UserID),
	)
	started := sess.started()
	c.rooms.Broadcast(req.ConversationID, protocol.EventGroupCallStarted, started)
	c.publish(events.SubjectGroupCallStarted, started)
}

// OnConversationJoin tells a connection that just joined a conversation
// about its running group call. A session that is older than the zombie age
// and has nobody in its call room is purged instead.
func (c *Coordinator) OnConversationJoin(connID, conversationID string) {
	sess, found := c.sessions[conversationID]
	if !found {
		return
	}

	age := c.loop.Now().Sub(sess.startTime)
	if age > c.config.ZombieAge && c.rooms.Size(rooms.CallRoomID(conversationID)) == 0 {
		c.log.Info("Purging group call without participants",
			zap.String("conversation", conversationID),
			zap.Duration("age", age),
		)
		c.remove(sess, "zombie")
		return
	}

	c.rooms.SendTo(connID, protocol.EventGroupCallStarted, sess.started())
}

// SendingSignal relays a mesh offer to the connection it is meant for.
func (c *Coordinator) SendingSignal(from string, req protocol.SendingSignal) {
	if _, found := c.rooms.Conn(req.UserToSignal); !found {
		c.dropped(protocol.EventSendingSignal, from, req.UserToSignal)
		return
	}

	callerUser, found := c.dir.UserFor(from)
	if !found {
		callerUser = req.CallerUserID
	}
	c.rooms.SendTo(req.UserToSignal, protocol.EventUserJoinedCall, protocol.UserJoinedCall{
		Signal:       req.Signal,
		CallerID:     from,
		CallerUserID: callerUser,
	})
}

// ReturningSignal relays a mesh answer back to the offering connection.
func (c *Coordinator) ReturningSignal(from string, req protocol.ReturningSignal) {
	if _, found := c.rooms.Conn(req.CallerID); !found {
		c.dropped(protocol.EventReturningSignal, from, req.CallerID)
		return
	}

	userID, _ := c.dir.UserFor(from)
	c.rooms.SendTo(req.CallerID, protocol.EventReceivingReturnedSignal, protocol.ReceivingReturnedSignal{
		Signal: req.Signal,
		ID:     from,
		UserID: userID,
	})
}

func (c *Coordinator) dropped(event, from, target string) {
	statsSignalsDropped.WithLabelValues(event).Inc()
	c.log.Debug("Dropping signal for unknown connection",
		zap.String("event", event),
		zap.String("from", from),
		zap.String("target", target),
	)
}

// Leave removes a connection from the call room of a conversation.
func (c *Coordinator) Leave(connID, conversationID string) {
	if !c.rooms.Leave(connID, rooms.CallRoomID(conversationID)) {
		return
	}
	c.left(connID, conversationID)
}

// Disconnect removes a closing connection from every call room it is in. It
// must run before the connection is unregistered from the room manager.
func (c *Coordinator) Disconnect(connID string) {
	for _, roomID := range c.rooms.RoomsOf(connID) {
		conversationID, found := rooms.ConversationOfCallRoom(roomID)
		if !found {
			continue
		}
		c.Leave(connID, conversationID)
	}
}

func (c *Coordinator) left(connID, conversationID string) {
	callRoom := rooms.CallRoomID(conversationID)
	c.rooms.Broadcast(callRoom, protocol.EventUserLeftCall, connID)

	sess, found := c.sessions[conversationID]
	if !found || c.rooms.Size(callRoom) > 1 {
		return
	}

	sess.state = StateGracePeriod
	sess.emptiedAt = c.loop.Now()
	c.log.Debug("Group call in grace period",
		zap.String("conversation", conversationID),
		zap.Int("remaining", c.rooms.Size(callRoom)),
	)
	c.loop.AfterFunc(c.config.GracePeriod, func() {
		c.recheck(sess, connID)
	})
}

// recheck runs when a grace period expired. Timers are never cancelled, the
// current membership decides. A timer of an earlier leave is ignored while
// the latest leave is still within its own grace period.
func (c *Coordinator) recheck(sess *session, lastConn string) {
	if c.sessions[sess.conversationID] != sess {
		return
	}
	if c.rooms.Size(rooms.CallRoomID(sess.conversationID)) > 0 {
		sess.state = StateActive
		return
	}
	if c.loop.Now().Sub(sess.emptiedAt) < c.config.GracePeriod {
		return
	}

	c.log.Info("Group call ended after grace period",
		zap.String("conversation", sess.conversationID),
	)
	c.finish(sess, lastConn, "grace")
}

// End finishes the session of a conversation immediately.
func (c *Coordinator) End(connID, conversationID string) {
	sess, found := c.sessions[conversationID]
	if !found {
		c.log.Debug("No group call to end",
			zap.String("conversation", conversationID),
			zap.String("conn", connID),
		)
		return
	}

	c.log.Info("Group call ended",
		zap.String("conversation", conversationID),
		zap.String("conn", connID),
	)
	c.finish(sess, connID, "explicit")
}

func (c *Coordinator) finish(sess *session, connID, reason string) {
	c.remove(sess, reason)

	duration := c.loop.Now().Sub(sess.startTime)
	if duration < c.config.MinDuration {
		statsShortCallsDiscarded.Inc()
		c.log.Debug("Discarding call log of short group call",
			zap.String("conversation", sess.conversationID),
			zap.Duration("duration", duration),
		)
		return
	}

	sender, err := c.sender(sess, connID)
	if err != nil {
		c.log.Error("Could not log group call",
			zap.String("conversation", sess.conversationID),
			zap.Error(err),
		)
		return
	}
	c.calllogs.Write(calllog.Entry{
		ConversationID: sess.conversationID,
		SenderID:       sender,
		Log: protocol.CallLog{
			CallType: protocol.CallTypeGroup,
			Status:   protocol.CallStatusCompleted,
			Duration: calllog.Duration(duration.Seconds()),
		},
	})
}

// remove deletes a session and announces the end to the conversation and to
// call participants outside of it.
func (c *Coordinator) remove(sess *session, reason string) {
	delete(c.sessions, sess.conversationID)
	statsSessionsEnded.WithLabelValues(reason).Inc()
	statsSessions.Set(float64(len(c.sessions)))

	ended := protocol.GroupCallEnded{ConversationID: sess.conversationID}
	c.rooms.Broadcast(sess.conversationID, protocol.EventGroupCallEnded, ended)
	for _, member := range c.rooms.Members(rooms.CallRoomID(sess.conversationID)) {
		if !c.rooms.IsMember(member, sess.conversationID) {
			c.rooms.SendTo(member, protocol.EventGroupCallEnded, ended)
		}
	}
	c.publish(events.SubjectGroupCallEnded, ended)
}

// sender picks the author of a call log: the initiator, then the user of the
// connection that ended the call, then any online user, then the configured
// fallback.
func (c *Coordinator) sender(sess *session, connID string) (string, error) {
	if sess.initiatorID != "" {
		return sess.initiatorID, nil
	}
	if userID, found := c.dir.UserFor(connID); found {
		return userID, nil
	}
	if userID, found := c.dir.AnyOnline(); found {
		return userID, nil
	}
	if c.config.FallbackSender != "" {
		return c.config.FallbackSender, nil
	}
	return "", ErrNoCallLogSender
}

func (c *Coordinator) publish(subject string, payload any) {
	c.loop.Go(func(_ context.Context) {
		if err := c.events.Publish(subject, payload); err != nil {
			c.log.Warn("Could not publish group call event",
				zap.String("subject", subject),
				zap.Error(err),
			)
		}
	})
}

// Session returns a snapshot of the session of a conversation.
func (c *Coordinator) Session(conversationID string) (Info, bool) {
	sess, found := c.sessions[conversationID]
	if !found {
		return Info{}, false
	}
	return Info{
		ConversationID: sess.conversationID,
		InitiatorID:    sess.initiatorID,
		StartTime:      sess.startTime,
		State:          sess.state,
	}, true
}

// Count returns the number of recorded sessions.
func (c *Coordinator) Count() int {
	return len(c.sessions)
}
