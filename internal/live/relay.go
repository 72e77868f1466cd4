package live

import "encoding/json"

// Signal routing is role-based: frames from the broadcaster fan out to every
// viewer in the room, frames from a viewer go to the broadcaster only.
// Viewers never receive each other's signaling traffic. Payloads are opaque
// SDP or ICE blobs and are forwarded untouched.
func (c *client) handleSignal(msg inboundMessage) {
	user, ok := c.gateway.presence.UserFor(c)
	if !ok {
		c.sendError("join chat first")
		return
	}
	session, ok := c.gateway.registry.Get(msg.LiveID)
	if !ok {
		// Stale signals race with teardown; drop them quietly.
		c.gateway.logger.Debug("signal for unknown session dropped",
			"type", msg.Type, "liveId", msg.LiveID, "user", user.ID)
		return
	}
	if len(msg.Payload) == 0 {
		c.sendError("signal payload required")
		return
	}

	frame := marshalFrame(map[string]any{
		"type":    msg.Type,
		"liveId":  session.ID(),
		"from":    user.ID,
		"payload": json.RawMessage(msg.Payload),
	})

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.ended {
		return
	}
	if session.conn == c {
		session.viewersLocked(frame)
		return
	}
	if session.conn != nil {
		session.conn.enqueue(frame)
	}
}
