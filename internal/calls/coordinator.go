// Package calls coordinates one-to-one call signaling: ringing, answer,
// rejection, ring timeout, hang up and the audio to video switch.
//
// A session exists between two connections from call_user until the call is
// rejected, times out or ends. Offers between two connections that already
// have a connected session are relayed as renegotiations.
package calls

import (
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/calllog"
	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/protocol"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
)

// DefaultRingTimeout ends calls that are not answered in time.
const (
	DefaultRingTimeout = 45 * time.Second
)

// State is the state of a call session.
type State int

const (
	StateRinging State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Directory resolves between users and their live connections.
type Directory interface {
	ConnFor(userID string) (string, bool)
	UserFor(connID string) (string, bool)
}

type pair struct {
	a string
	b string
}

func pairOf(c1, c2 string) pair {
	if c1 > c2 {
		c1, c2 = c2, c1
	}
	return pair{a: c1, b: c2}
}

type session struct {
	key pair

	callerConn     string
	callerUser     string
	calleeConn     string
	calleeUser     string
	conversationID string
	isVideo        bool

	state       State
	startedAt   time.Time
	connectedAt time.Time
	ring        loop.Timer

	// Connection that asked to switch to video, empty if none is pending.
	switchFrom string
}

func (s *session) peerOf(connID string) string {
	if connID == s.callerConn {
		return s.calleeConn
	}
	return s.callerConn
}

func (s *session) callType() string {
	if s.isVideo {
		return protocol.CallTypeVideo
	}
	return protocol.CallTypeAudio
}

// Coordinator owns the one-to-one call sessions. It must only be used on the
// loop.
type Coordinator struct {
	log      *zap.Logger
	loop     loop.Loop
	rooms    *rooms.Manager
	dir      Directory
	calllogs *calllog.Writer

	ringTimeout time.Duration
	sessions    map[pair]*session
}

// NewCoordinator creates a coordinator. A zero ring timeout uses the default.
func NewCoordinator(log *zap.Logger, lp loop.Loop, rm *rooms.Manager, dir Directory, calllogs *calllog.Writer, ringTimeout time.Duration) *Coordinator {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Coordinator{
		log:         log.With(zap.String("component", "calls")),
		loop:        lp,
		rooms:       rm,
		dir:         dir,
		calllogs:    calllogs,
		ringTimeout: ringTimeout,
		sessions:    make(map[pair]*session),
	}
}

// resolve accepts a connection id or a user id and returns the connection.
func (c *Coordinator) resolve(target string) (string, bool) {
	if target == "" {
		return "", false
	}
	if _, found := c.rooms.Conn(target); found {
		return target, true
	}
	return c.dir.ConnFor(target)
}

func (c *Coordinator) dropped(event, from, target string) {
	statsSignalsDropped.WithLabelValues(event).Inc()
	c.log.Debug("Dropping signal for unreachable target",
		zap.String("event", event),
		zap.String("from", from),
		zap.String("target", target),
	)
}

// Initiate rings the callee or, on a connected session, relays the offer as
// a renegotiation.
func (c *Coordinator) Initiate(from string, req protocol.CallUser) {
	calleeConn, found := c.dir.ConnFor(req.ToUserID)
	if !found {
		c.dropped(protocol.EventCallUser, from, req.ToUserID)
		return
	}
	if calleeConn == from {
		c.log.Debug("Ignoring call to own connection", zap.String("conn", from))
		return
	}

	callerUser, _ := c.dir.UserFor(from)
	isVideo := req.IsVideo || protocol.DescriptionHasVideo(req.Offer)
	incoming := protocol.CallIncoming{
		Offer:      req.Offer,
		From:       from,
		FromUserID: callerUser,
		CallerName: req.CallerName,
		IsVideo:    isVideo,
	}

	key := pairOf(from, calleeConn)
	if sess, found := c.sessions[key]; found {
		switch sess.state {
		case StateConnected:
			sess.isVideo = sess.isVideo || isVideo
			incoming.Renegotiate = true
			statsCalls.WithLabelValues("renegotiated").Inc()
			c.rooms.SendTo(calleeConn, protocol.EventCallIncoming, incoming)
			return
		case StateRinging:
			if sess.callerConn == from {
				sess.ring.Stop()
				sess.isVideo = isVideo
				sess.ring = c.startRing(sess)
			}
			c.rooms.SendTo(calleeConn, protocol.EventCallIncoming, incoming)
			return
		}
	}

	sess := &session{
		key:            key,
		callerConn:     from,
		callerUser:     callerUser,
		calleeConn:     calleeConn,
		calleeUser:     req.ToUserID,
		conversationID: req.ConversationID,
		isVideo:        isVideo,
		state:          StateRinging,
		startedAt:      c.loop.Now(),
	}
	sess.ring = c.startRing(sess)
	c.sessions[key] = sess
	statsCalls.WithLabelValues("started").Inc()
	statsActiveSessions.Set(float64(len(c.sessions)))

	c.log.Debug("Ringing",
		zap.String("caller", from),
		zap.String("callee", calleeConn),
		zap.Bool("video", isVideo),
	)
	c.rooms.SendTo(calleeConn, protocol.EventCallIncoming, incoming)
}

func (c *Coordinator) startRing(sess *session) loop.Timer {
	return c.loop.AfterFunc(c.ringTimeout, func() {
		c.ringTimedOut(sess)
	})
}

func (c *Coordinator) ringTimedOut(sess *session) {
	if c.sessions[sess.key] != sess || sess.state != StateRinging {
		return
	}

	c.log.Debug("Call was not answered",
		zap.String("caller", sess.callerConn),
		zap.String("callee", sess.calleeConn),
	)
	c.rooms.SendTo(sess.callerConn, protocol.EventCallEnded, nil)
	c.rooms.SendTo(sess.calleeConn, protocol.EventCallEnded, nil)
	c.finish(sess, protocol.CallStatusMissed)
}

// Answer relays the answer to the caller. The first answer to a ringing call
// connects it.
func (c *Coordinator) Answer(from string, req protocol.AnswerCall) {
	to, found := c.resolve(req.To)
	if !found {
		c.dropped(protocol.EventAnswerCall, from, req.To)
		return
	}

	if sess, found := c.sessions[pairOf(from, to)]; found && sess.state == StateRinging && sess.calleeConn == from {
		sess.ring.Stop()
		sess.state = StateConnected
		sess.connectedAt = c.loop.Now()
		statsCalls.WithLabelValues("connected").Inc()
	}
	c.rooms.SendTo(to, protocol.EventCallAccepted, encodeRaw(req.Answer))
}

// RelayICE forwards a candidate. Candidates are relayed in the order they are
// received.
func (c *Coordinator) RelayICE(from string, req protocol.ICECandidate) {
	to, found := c.resolve(req.To)
	if !found {
		c.dropped(protocol.EventICECandidate, from, req.To)
		return
	}
	c.rooms.SendTo(to, protocol.EventICECandidate, encodeRaw(req.Candidate))
}

// Reject declines a ringing call.
func (c *Coordinator) Reject(from string, req protocol.Target) {
	to, found := c.resolve(req.To)
	if !found {
		c.dropped(protocol.EventRejectCall, from, req.To)
		return
	}

	c.rooms.SendTo(to, protocol.EventCallRejected, nil)
	if sess, found := c.sessions[pairOf(from, to)]; found && sess.state == StateRinging {
		c.finish(sess, protocol.CallStatusDeclined)
	}
}

// End hangs up. Either party may end the call at any time.
func (c *Coordinator) End(from string, req protocol.Target) {
	to, found := c.resolve(req.To)
	if !found {
		c.dropped(protocol.EventEndCall, from, req.To)
		return
	}

	c.rooms.SendTo(to, protocol.EventCallEnded, nil)
	if sess, found := c.sessions[pairOf(from, to)]; found {
		c.finish(sess, "")
	}
}

// Disconnect ends every session of a closed connection and notifies the
// remaining peers.
func (c *Coordinator) Disconnect(connID string) {
	var affected []*session
	for _, sess := range c.sessions {
		if sess.callerConn == connID || sess.calleeConn == connID {
			affected = append(affected, sess)
		}
	}
	sort.Slice(affected, func(i, j int) bool {
		return affected[i].startedAt.Before(affected[j].startedAt)
	})

	for _, sess := range affected {
		c.rooms.SendTo(sess.peerOf(connID), protocol.EventCallEnded, nil)
		c.finish(sess, "")
	}
}

// finish removes a session and writes its call log. An empty status is
// derived from the session state.
func (c *Coordinator) finish(sess *session, status string) {
	if sess.ring != nil {
		sess.ring.Stop()
	}
	delete(c.sessions, sess.key)
	statsActiveSessions.Set(float64(len(c.sessions)))

	var duration *float64
	switch {
	case sess.state == StateConnected:
		status = protocol.CallStatusCompleted
		duration = calllog.Duration(c.loop.Now().Sub(sess.connectedAt).Seconds())
	case status == "":
		status = protocol.CallStatusMissed
	}
	statsCalls.WithLabelValues(status).Inc()

	if sess.callerUser == "" {
		c.log.Debug("Not logging call without caller",
			zap.String("caller", sess.callerConn),
			zap.String("status", status),
		)
		return
	}
	// Without a conversation id the writer looks up the direct conversation.
	c.calllogs.Write(calllog.Entry{
		ConversationID: sess.conversationID,
		SenderID:       sess.callerUser,
		PeerID:         sess.calleeUser,
		Log: protocol.CallLog{
			CallType: sess.callType(),
			Status:   status,
			Duration: duration,
		},
	})
}

// SessionState returns the state of the session between two connections.
func (c *Coordinator) SessionState(conn1, conn2 string) (State, bool) {
	sess, found := c.sessions[pairOf(conn1, conn2)]
	if !found {
		return 0, false
	}
	return sess.state, true
}

// IsVideo reports whether the session between two connections carries video.
func (c *Coordinator) IsVideo(conn1, conn2 string) bool {
	sess, found := c.sessions[pairOf(conn1, conn2)]
	return found && sess.isVideo
}

// Count returns the number of sessions.
func (c *Coordinator) Count() int {
	return len(c.sessions)
}

// encodeRaw keeps empty relayed payloads as JSON null.
func encodeRaw(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
