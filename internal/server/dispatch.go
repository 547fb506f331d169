package server

import (
	"errors"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

type eventHandler func(client *Client, env *protocol.Envelope) error

func (h *Hub) eventHandlers() map[string]eventHandler {
	return map[string]eventHandler{
		protocol.EventJoinRoom:          h.onJoinRoom,
		protocol.EventJoinConversation:  h.onJoinConversation,
		protocol.EventLeaveConversation: h.onLeaveConversation,
		protocol.EventSendMessage:       h.onSendMessage,
		protocol.EventTyping:            h.onTyping(protocol.EventUserTyping),
		protocol.EventStopTyping:        h.onTyping(protocol.EventUserStopTyping),
		protocol.EventMarkSeen:          h.onMarkSeen,
		protocol.EventMarkDelivered:     h.onMarkDelivered,

		protocol.EventCallUser: func(client *Client, env *protocol.Envelope) error {
			var req protocol.CallUser
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			h.calls.Initiate(client.id, req)
			return nil
		},
		protocol.EventAnswerCall: func(client *Client, env *protocol.Envelope) error {
			var req protocol.AnswerCall
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			h.calls.Answer(client.id, req)
			return nil
		},
		protocol.EventICECandidate: func(client *Client, env *protocol.Envelope) error {
			var req protocol.ICECandidate
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			h.calls.RelayICE(client.id, req)
			return nil
		},
		protocol.EventRejectCall: func(client *Client, env *protocol.Envelope) error {
			to, err := env.DecodeID("to")
			if err != nil {
				return err
			}
			h.calls.Reject(client.id, protocol.Target{To: to})
			return nil
		},
		protocol.EventEndCall: func(client *Client, env *protocol.Envelope) error {
			to, err := env.DecodeID("to")
			if err != nil {
				return err
			}
			h.calls.End(client.id, protocol.Target{To: to})
			return nil
		},
		protocol.EventCallSwitchRequest: func(client *Client, env *protocol.Envelope) error {
			var req protocol.SwitchRequest
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			h.calls.RequestSwitch(client.id, req)
			return nil
		},
		protocol.EventCallSwitchResponse: func(client *Client, env *protocol.Envelope) error {
			var req protocol.SwitchResponse
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			h.calls.RespondSwitch(client.id, req)
			return nil
		},

		protocol.EventJoinGroupCall: func(client *Client, env *protocol.Envelope) error {
			var req protocol.JoinGroupCall
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			if req.UserID == "" {
				req.UserID, _ = h.presence.UserFor(client.id)
			}
			h.groupcalls.Join(client.id, req)
			return nil
		},
		protocol.EventSendingSignal: func(client *Client, env *protocol.Envelope) error {
			var req protocol.SendingSignal
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			h.groupcalls.SendingSignal(client.id, req)
			return nil
		},
		protocol.EventReturningSignal: func(client *Client, env *protocol.Envelope) error {
			var req protocol.ReturningSignal
			if err := env.DecodeData(&req); err != nil {
				return err
			}
			h.groupcalls.ReturningSignal(client.id, req)
			return nil
		},
		protocol.EventLeaveGroupCall: func(client *Client, env *protocol.Envelope) error {
			conversationID, err := env.DecodeID("conversationId")
			if err != nil {
				return err
			}
			h.groupcalls.Leave(client.id, conversationID)
			return nil
		},
		protocol.EventEndGroupCall: func(client *Client, env *protocol.Envelope) error {
			conversationID, err := env.DecodeID("conversationId")
			if err != nil {
				return err
			}
			h.groupcalls.End(client.id, conversationID)
			return nil
		},
	}
}

// dispatch decodes a frame and runs its handler on the loop. Invalid frames
// are answered with an error event; they never affect other clients.
func (h *Hub) dispatch(client *Client, frame []byte) {
	if !h.isRegistered(client) {
		return
	}

	env, err := protocol.Decode(frame)
	if err != nil {
		statsInvalidFrames.Inc()
		client.log.Debug("Invalid frame", zap.Error(err))
		h.rooms.SendTo(client.id, protocol.EventError, protocol.ErrorMessage{
			Message: "invalid frame",
		})
		return
	}

	handler, found := h.handlers[env.Event]
	if !found {
		statsInvalidFrames.Inc()
		client.log.Debug("Unknown event", zap.String("event", env.Event))
		h.rooms.SendTo(client.id, protocol.EventError, protocol.ErrorMessage{
			Event:   env.Event,
			Message: protocol.ErrUnknownEvent.Error(),
		})
		return
	}

	statsEvents.WithLabelValues(env.Event).Inc()
	h.reactor.Exec(env.Event, func() {
		if err := handler(client, env); err != nil {
			statsInvalidFrames.Inc()
			client.log.Debug("Could not handle event",
				zap.String("event", env.Event),
				zap.Error(err),
			)
			h.rooms.SendTo(client.id, protocol.EventError, protocol.ErrorMessage{
				Event:   env.Event,
				Message: err.Error(),
			})
		}
	})
}

var (
	errMissingConversation = errors.New("missing conversationId")
)

func (h *Hub) onJoinRoom(client *Client, env *protocol.Envelope) error {
	userID, err := env.DecodeID("userId")
	if err != nil {
		return err
	}
	h.presence.Connect(userID, client.id)
	return nil
}

func (h *Hub) onJoinConversation(client *Client, env *protocol.Envelope) error {
	conversationID, err := env.DecodeID("conversationId")
	if err != nil {
		return err
	}
	h.rooms.Join(client.id, conversationID)
	h.groupcalls.OnConversationJoin(client.id, conversationID)
	return nil
}

func (h *Hub) onLeaveConversation(client *Client, env *protocol.Envelope) error {
	conversationID, err := env.DecodeID("conversationId")
	if err != nil {
		return err
	}
	h.rooms.Leave(client.id, conversationID)
	return nil
}

func (h *Hub) onTyping(event string) eventHandler {
	return func(client *Client, env *protocol.Envelope) error {
		var req protocol.Typing
		if err := env.DecodeData(&req); err != nil {
			return err
		}
		if req.ConversationID == "" {
			return errMissingConversation
		}
		h.rooms.Broadcast(req.ConversationID, event, req, client.id)
		return nil
	}
}

// acknowledgment decodes mark_seen and mark_delivered. The user defaults to
// the user of the connection.
func (h *Hub) acknowledgment(client *Client, env *protocol.Envelope) (protocol.ConversationUser, error) {
	var req protocol.ConversationUser
	if err := env.DecodeData(&req); err != nil {
		return req, err
	}
	if req.ConversationID == "" {
		return req, errMissingConversation
	}
	if req.UserID == "" {
		req.UserID, _ = h.presence.UserFor(client.id)
	}
	return req, nil
}

func (h *Hub) onMarkSeen(client *Client, env *protocol.Envelope) error {
	req, err := h.acknowledgment(client, env)
	if err != nil {
		return err
	}
	h.receipts.MarkSeen(req.ConversationID, req.UserID)
	return nil
}

func (h *Hub) onMarkDelivered(client *Client, env *protocol.Envelope) error {
	req, err := h.acknowledgment(client, env)
	if err != nil {
		return err
	}
	h.receipts.MarkDelivered(req.ConversationID, req.UserID)
	return nil
}

func (h *Hub) onSendMessage(client *Client, env *protocol.Envelope) error {
	return h.relay.Relay(client.id, env.Data)
}
