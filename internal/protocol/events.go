// Package protocol defines the event names and payloads exchanged between the
// hub and its clients over the websocket connection.
package protocol

// Client to server events.
const (
	EventJoinRoom           = "join_room"
	EventJoinConversation   = "join_conversation"
	EventLeaveConversation  = "leave_conversation"
	EventSendMessage        = "send_message"
	EventTyping             = "typing"
	EventStopTyping         = "stop_typing"
	EventMarkSeen           = "mark_seen"
	EventMarkDelivered      = "mark_delivered"
	EventCallUser           = "call_user"
	EventAnswerCall         = "answer_call"
	EventICECandidate       = "ice_candidate"
	EventRejectCall         = "reject_call"
	EventEndCall            = "end_call"
	EventCallSwitchRequest  = "call_switch_request"
	EventCallSwitchResponse = "call_switch_response"
	EventJoinGroupCall      = "join_group_call"
	EventSendingSignal      = "sending_signal"
	EventReturningSignal    = "returning_signal"
	EventLeaveGroupCall     = "leave_group_call"
	EventEndGroupCall       = "end_group_call"
)

// Server to client events. ice_candidate and the two switch events keep the
// same name in both directions.
const (
	EventUserOnline              = "user_online"
	EventUserOffline             = "user_offline"
	EventReceiveMessage          = "receive_message"
	EventUserTyping              = "user_typing"
	EventUserStopTyping          = "user_stop_typing"
	EventMessagesSeen            = "messages_seen"
	EventMessagesDelivered       = "messages_delivered"
	EventCallIncoming            = "call_incoming"
	EventCallAccepted            = "call_accepted"
	EventCallRejected            = "call_rejected"
	EventCallEnded               = "call_ended"
	EventGroupCallStarted        = "group_call_started"
	EventGroupCallEnded          = "group_call_ended"
	EventAllUsersInCall          = "all_users_in_call"
	EventUserJoinedCall          = "user_joined_call"
	EventReceivingReturnedSignal = "receiving_returned_signal"
	EventUserLeftCall            = "user_left_call"
	EventError                   = "error"
)
