// Package client implements the peer side of the hub protocol: a websocket
// signaling connection, a WebRTC peer wrapper and the 1:1 call state
// including audio to video upgrades.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/protocol"
)

const (
	writeWait = 10 * time.Second
)

// ErrClosed is returned when emitting on a closed connection.
var ErrClosed = errors.New("connection closed")

// Handler receives the payload of a server event.
type Handler func(data json.RawMessage)

// Emitter sends client events to the hub.
type Emitter interface {
	Emit(event string, data any) error
}

// Conn is a signaling connection to the hub. Handlers run on the read
// goroutine in the order events arrive.
type Conn struct {
	log *zap.Logger
	ws  *websocket.Conn

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string]Handler

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the websocket endpoint of a hub.
func Dial(ctx context.Context, log *zap.Logger, url string, header http.Header) (*Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}

	c := &Conn{
		log:      log.With(zap.String("component", "client")),
		ws:       ws,
		handlers: make(map[string]Handler),
		closed:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// On registers the handler of a server event, replacing any previous one.
func (c *Conn) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers[event] = handler
}

func (c *Conn) Emit(event string, data any) error {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Done is closed once the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()

		err = c.ws.Close()
		close(c.closed)
	})
	return err
}

func (c *Conn) readLoop() {
	defer c.Close() // nolint

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("Connection lost", zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// The hub batches queued events into one message.
		for _, line := range bytes.Split(data, []byte{'\n'}) {
			if len(line) == 0 {
				continue
			}
			c.dispatch(line)
		}
	}
}

func (c *Conn) dispatch(frame []byte) {
	env, err := protocol.Decode(frame)
	if err != nil {
		c.log.Debug("Invalid frame from hub", zap.Error(err))
		return
	}

	c.mu.RLock()
	handler, found := c.handlers[env.Event]
	c.mu.RUnlock()
	if !found {
		return
	}
	handler(env.Data)
}
