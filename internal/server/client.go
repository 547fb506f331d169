package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	sendBufferSize = 256
)

// unlimitedEvents carry WebRTC signaling and bypass the rate limiter.
var unlimitedEvents = map[string]bool{
	protocol.EventAnswerCall:      true,
	protocol.EventICECandidate:    true,
	protocol.EventSendingSignal:   true,
	protocol.EventReturningSignal: true,
}

// Client is a single websocket connection. Frames read from the connection
// are handed to the hub loop; frames queued with Send are written by the
// write pump.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	addr string
	log  *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool

	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	// limited is set while frames are discarded. Only the read pump uses it.
	limited bool
}

// NewClient creates a new Client for an upgraded connection.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := hub.config
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := uuid.NewString()

	return &Client{
		id:             id,
		conn:           conn,
		hub:            hub,
		addr:           addr,
		log:            hub.log.With(zap.String("conn", id), zap.String("addr", addr)),
		send:           make(chan []byte, sendBufferSize),
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(hub.clock, cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Send queues a frame without blocking. A client whose buffer is exhausted
// is disconnected.
func (c *Client) Send(frame []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Recovered from panic in Send", zap.Any("error", r))
			sent = false
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		statsSendBufferFull.Inc()
		c.log.Warn("Send buffer full, closing connection")
		c.closeLocked()
		if c.conn != nil {
			go c.closeConnection()
		}
		return false
	}
}

// close stops accepting frames and lets the write pump send a close message.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Warn("Error setting read deadline in pong handler", zap.Error(err))
		}
		return nil
	})
}

// handleReadError logs the read error at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Info("Message exceeded maximum size",
			zap.Int64("limit", c.maxMessageSize),
		)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Debug("Client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("Client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Info("Unexpected WebSocket error", zap.Error(err))
	default:
		c.log.Info("WebSocket read error", zap.Error(err))
	}
}

// checkRateLimit reports whether a frame may be processed. The first frame
// discarded after an accepted one is answered with an error event.
func (c *Client) checkRateLimit(frame []byte) bool {
	if c.rateLimiter == nil {
		return true
	}
	event := protocol.EventName(frame)
	if unlimitedEvents[event] {
		return true
	}
	if c.rateLimiter.allow() {
		c.limited = false
		return true
	}

	statsRateLimited.Inc()
	if c.limited {
		return false
	}
	c.limited = true
	c.log.Info("Rate limit exceeded, discarding messages",
		zap.String("event", event),
		zap.Int("burst", c.rateLimit.Burst),
		zap.Duration("interval", c.rateLimit.RefillInterval),
	)
	reply, err := protocol.Encode(protocol.EventError, protocol.ErrorMessage{
		Event:   event,
		Message: protocol.ErrRateLimited.Error(),
	})
	if err == nil {
		c.Send(reply)
	}
	return false
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.closeConnection()
	}()

	c.setupReadConnection()

	for {
		messageType, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Debug("Ignoring non-text message", zap.Int("type", messageType))
			continue
		}

		if !c.checkRateLimit(rawMessage) {
			continue
		}

		if !c.hub.receive(c, rawMessage) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error closing connection", zap.Error(err))
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("Error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("Error writing close message", zap.Error(err))
	}
	return false
}

// writeTextMessage writes a frame plus every frame already queued, separated
// by newlines, as a single websocket message.
func (c *Client) writeTextMessage(message []byte) bool {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.log.Debug("Error creating writer", zap.Error(err))
		return false
	}

	if _, err := w.Write(message); err != nil {
		c.log.Debug("Error writing message", zap.Error(err))
		return false
	}

	if !c.writeQueuedMessages(w) {
		return false
	}

	if err := w.Close(); err != nil {
		c.log.Debug("Error closing writer", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) writeQueuedMessages(w io.Writer) bool {
	n := len(c.send)
	for i := 0; i < n; i++ {
		message, ok := <-c.send
		if !ok {
			return true
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			c.log.Debug("Error writing newline", zap.Error(err))
			return false
		}
		if _, err := w.Write(message); err != nil {
			c.log.Debug("Error writing queued message", zap.Error(err))
			return false
		}
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Debug("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Debug("Error writing ping message", zap.Error(err))
		return false
	}
	return true
}
