package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server bundles the HTTP handlers of the hub.
type Server struct {
	log      *zap.Logger
	hub      *Hub
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// NewServer creates the HTTP handlers for a hub.
func NewServer(log *zap.Logger, hub *Hub) *Server {
	s := &Server{
		log:     log.With(zap.String("component", "http")),
		hub:     hub,
		origins: newOriginPolicy(log, hub.config.AllowedOrigins),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	return s
}

// WebSocketHandler upgrades the request and registers the new client with
// the hub, which starts its read and write pumps.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("WebSocket upgrade failed",
			zap.String("addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	client := NewClient(conn, s.hub, r.RemoteAddr)
	if !s.hub.registerClient(client) {
		client.closeConnection()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// StatsHandler returns the hub counters as JSON.
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := s.hub.Stats(ctx)
	if err != nil {
		http.Error(w, "Could not collect stats", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.log.Debug("Error writing stats response", zap.Error(err))
	}
}

// TestPageHandler serves a page to exercise the hub from a browser.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.log.Debug("Error writing HTML response", zap.Error(err))
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat Hub Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #events { border: 1px solid #ccc; height: 300px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; font-family: monospace; }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
    </style>
</head>
<body>
    <h1>GoChat Hub Test</h1>
    <div>
        <input type="text" id="user" placeholder="User id">
        <input type="text" id="conversation" placeholder="Conversation id">
        <button onclick="connect()">Connect</button>
    </div>
    <div>
        <input type="text" id="message" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
        <button onclick="emit('join_group_call', {conversationId: value('conversation'), userId: value('user')})">Join call</button>
        <button onclick="emit('leave_group_call', value('conversation'))">Leave call</button>
    </div>
    <div id="events"></div>
    <script>
        let ws = null;
        const value = (id) => document.getElementById(id).value.trim();
        function log(text) {
            const line = document.createElement('div');
            line.textContent = text;
            const events = document.getElementById('events');
            events.appendChild(line);
            events.scrollTop = events.scrollHeight;
        }
        function emit(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
                log('> ' + event);
            }
        }
        function connect() {
            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onopen = () => {
                log('Connected');
                emit('join_room', value('user'));
                emit('join_conversation', value('conversation'));
            };
            ws.onmessage = (event) => event.data.split('\n').forEach((frame) => log('< ' + frame));
            ws.onclose = () => log('Connection closed');
        }
        function sendMessage() {
            emit('send_message', {conversationId: value('conversation'), senderId: value('user'), content: value('message')});
        }
    </script>
</body>
</html>`
