package calls

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

// RequestSwitch relays a request to upgrade a connected call to video. Only
// one request per call can be pending.
func (c *Coordinator) RequestSwitch(from string, req protocol.SwitchRequest) {
	to, found := c.resolve(req.ToUserID)
	if !found {
		c.dropped(protocol.EventCallSwitchRequest, from, req.ToUserID)
		return
	}

	sess, found := c.sessions[pairOf(from, to)]
	if !found || sess.state != StateConnected {
		c.log.Debug("Ignoring switch request without connected call",
			zap.String("from", from),
			zap.String("to", to),
		)
		return
	}
	if sess.switchFrom != "" {
		c.log.Debug("Switch request already pending",
			zap.String("from", from),
			zap.String("pending", sess.switchFrom),
		)
		return
	}

	sess.switchFrom = from
	fromUser, _ := c.dir.UserFor(from)
	c.rooms.SendTo(to, protocol.EventCallSwitchRequest, protocol.SwitchRequest{
		FromUserID: fromUser,
	})
}

// RespondSwitch resolves the pending request of the peer. Accepting marks
// the call as video; the requester then renegotiates with a fresh offer.
func (c *Coordinator) RespondSwitch(from string, req protocol.SwitchResponse) {
	to, found := c.resolve(req.ToUserID)
	if !found {
		c.dropped(protocol.EventCallSwitchResponse, from, req.ToUserID)
		return
	}

	sess, found := c.sessions[pairOf(from, to)]
	if !found || sess.switchFrom != to {
		c.log.Debug("Ignoring switch response without pending request",
			zap.String("from", from),
			zap.String("to", to),
		)
		return
	}

	sess.switchFrom = ""
	if req.Accepted {
		sess.isVideo = true
	}
	statsSwitches.WithLabelValues(acceptedLabel(req.Accepted)).Inc()

	fromUser, _ := c.dir.UserFor(from)
	c.rooms.SendTo(to, protocol.EventCallSwitchResponse, protocol.SwitchResponse{
		FromUserID: fromUser,
		Accepted:   req.Accepted,
	})
}

func acceptedLabel(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}
