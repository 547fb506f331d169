package protocol

import (
	"encoding/json"
	"time"
)

// ConversationUser is the payload of mark_seen and mark_delivered.
type ConversationUser struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// Typing is the payload of typing and stop_typing.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
}

// UserOffline announces a user going offline.
type UserOffline struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// CallUser starts a call or, on an already connected call, renegotiates it.
type CallUser struct {
	ToUserID       string          `json:"toUserId"`
	Offer          json.RawMessage `json:"offer"`
	IsVideo        bool            `json:"isVideo"`
	CallerName     string          `json:"callerName,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
}

// CallIncoming rings the callee or carries a renegotiation offer.
type CallIncoming struct {
	Offer       json.RawMessage `json:"offer"`
	From        string          `json:"from"`
	FromUserID  string          `json:"fromUserId"`
	CallerName  string          `json:"callerName,omitempty"`
	IsVideo     bool            `json:"isVideo"`
	Renegotiate bool            `json:"renegotiate,omitempty"`
}

// AnswerCall carries the answer of the callee.
type AnswerCall struct {
	To     string          `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

// ICECandidate carries one trickled candidate.
type ICECandidate struct {
	To        string          `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// Target addresses reject_call and end_call.
type Target struct {
	To string `json:"to"`
}

// SwitchRequest asks the peer to switch to video.
type SwitchRequest struct {
	ToUserID   string `json:"toUserId,omitempty"`
	FromUserID string `json:"fromUserId,omitempty"`
}

// SwitchResponse answers a switch request.
type SwitchResponse struct {
	ToUserID   string `json:"toUserId,omitempty"`
	FromUserID string `json:"fromUserId,omitempty"`
	Accepted   bool   `json:"accepted"`
}

// JoinGroupCall is the payload of join_group_call.
type JoinGroupCall struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// GroupCallStarted announces a group call to a conversation.
type GroupCallStarted struct {
	ConversationID string    `json:"conversationId"`
	InitiatorID    string    `json:"initiatorId"`
	FromSocketID   string    `json:"fromSocketId"`
	StartTime      time.Time `json:"startTime"`
}

// GroupCallEnded announces the end of a group call.
type GroupCallEnded struct {
	ConversationID string `json:"conversationId"`
}

// CallPeer is a connection already in a group call.
type CallPeer struct {
	SocketID string `json:"socketId"`
	UserID   string `json:"userId,omitempty"`
}

// SendingSignal carries a mesh offer.
type SendingSignal struct {
	UserToSignal string          `json:"userToSignal"`
	Signal       json.RawMessage `json:"signal"`
	CallerID     string          `json:"callerID"`
	CallerUserID string          `json:"callerUserID,omitempty"`
}

// UserJoinedCall delivers a mesh offer.
type UserJoinedCall struct {
	Signal       json.RawMessage `json:"signal"`
	CallerID     string          `json:"callerID"`
	CallerUserID string          `json:"callerUserID,omitempty"`
}

// ReturningSignal carries a mesh answer.
type ReturningSignal struct {
	Signal   json.RawMessage `json:"signal"`
	CallerID string          `json:"callerID"`
}

// ReceivingReturnedSignal delivers a mesh answer.
type ReceivingReturnedSignal struct {
	Signal json.RawMessage `json:"signal"`
	ID     string          `json:"id"`
	UserID string          `json:"userId,omitempty"`
}

// CallLog is stored as the content of "call" messages.
type CallLog struct {
	CallType string `json:"callType"`
	Status   string `json:"status"`
	// Duration in seconds, nil when the call never connected.
	Duration *float64 `json:"duration"`
}

const (
	CallStatusCompleted = "completed"
	CallStatusMissed    = "missed"
	CallStatusDeclined  = "declined"

	CallTypeAudio = "audio"
	CallTypeVideo = "video"
	CallTypeGroup = "group"
)

// ErrorMessage reports a frame that could not be handled.
type ErrorMessage struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
