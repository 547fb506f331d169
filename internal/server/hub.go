package server

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-hub/internal/calllog"
	"github.com/Tyrowin/gochat-hub/internal/calls"
	"github.com/Tyrowin/gochat-hub/internal/events"
	"github.com/Tyrowin/gochat-hub/internal/groupcall"
	"github.com/Tyrowin/gochat-hub/internal/loop"
	"github.com/Tyrowin/gochat-hub/internal/presence"
	"github.com/Tyrowin/gochat-hub/internal/receipts"
	"github.com/Tyrowin/gochat-hub/internal/rooms"
	"github.com/Tyrowin/gochat-hub/internal/store"
)

const inboundQueueSize = 1024

type inboundFrame struct {
	client *Client
	frame  []byte
}

// Hub owns all realtime state. Run executes every mutation on a single
// goroutine: client registration, inbound frames, timers and the
// continuations of store I/O.
type Hub struct {
	log    *zap.Logger
	config *Config
	clock  clock.Clock

	reactor    *loop.Reactor
	rooms      *rooms.Manager
	presence   *presence.Registry
	receipts   *receipts.Reconciler
	calls      *calls.Coordinator
	groupcalls *groupcall.Coordinator
	relay      *messageRelay
	handlers   map[string]eventHandler

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame

	mutex   sync.RWMutex
	clients map[*Client]struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub backed by the given stores. A nil clock uses the
// system clock.
func NewHub(log *zap.Logger, config *Config, stores store.Stores, publisher events.Publisher, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	if publisher == nil {
		publisher = events.Noop{}
	}
	config.sanitize()

	ctx, cancel := context.WithCancel(context.Background())
	reactor := loop.NewReactor(ctx, log, clk, config.Workers)
	rm := rooms.NewManager(log)
	registry := presence.NewRegistry(log, reactor, rm, stores.Users, publisher)
	writer := calllog.NewWriter(log, reactor, rm, stores.Messages, stores.Conversations, publisher)

	h := &Hub{
		log:        log.With(zap.String("component", "hub")),
		config:     config,
		clock:      clk,
		reactor:    reactor,
		rooms:      rm,
		presence:   registry,
		receipts:   receipts.NewReconciler(log, reactor, rm, stores.Messages, config.SeenWindow, config.DeliveredWindow),
		calls:      calls.NewCoordinator(log, reactor, rm, registry, writer, config.RingTimeout),
		groupcalls: groupcall.NewCoordinator(log, reactor, rm, registry, writer, publisher, config.GroupCall),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, inboundQueueSize),
		clients:    make(map[*Client]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.relay = newMessageRelay(log, reactor, rm, stores.Conversations)
	h.handlers = h.eventHandlers()
	return h
}

// Run starts the hub's main event loop. It returns after Shutdown was called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.reactor.Exec("register", func() {
				h.handleRegister(client)
			})

		case client := <-h.unregister:
			h.reactor.Exec("unregister", func() {
				h.handleUnregister(client)
			})

		case in := <-h.inbound:
			h.dispatch(in.client, in.frame)

		case task := <-h.reactor.Tasks():
			h.reactor.Exec("task", task)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		h.log.Warn("Received nil client registration; skipping")
		return
	}

	h.mutex.Lock()
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.rooms.Register(client)
	statsConnections.Set(float64(clientCount))
	client.log.Info("Client registered", zap.Int("clients", clientCount))

	if client.conn == nil {
		return
	}
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Call rooms must still be known when leaving group calls.
	h.groupcalls.Disconnect(client.id)
	h.calls.Disconnect(client.id)
	h.presence.Disconnect(client.id)
	h.rooms.Unregister(client.id)
	client.close()

	statsConnections.Set(float64(clientCount))
	client.log.Info("Client unregistered", zap.Int("clients", clientCount))
}

func (h *Hub) isRegistered(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, found := h.clients[client]
	return found
}

// registerClient hands a new client to the loop.
func (h *Hub) registerClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// receive queues an inbound frame, returning false once the hub stopped.
func (h *Hub) receive(client *Client, frame []byte) bool {
	select {
	case h.inbound <- inboundFrame{client: client, frame: frame}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// shutdownClients closes every client connection.
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		// Closing the send channel stops the write pump.
		client.close()
		if client.conn != nil {
			client.closeConnection()
		}
	}

	h.log.Info("Closed client connections", zap.Int("count", len(clients)))
}

// Shutdown stops the hub and waits for all client goroutines and queued
// store I/O, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		h.reactor.Stop()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// Stats is a snapshot of the hub counters.
type Stats struct {
	Connections     int `json:"connections"`
	OnlineUsers     int `json:"onlineUsers"`
	Rooms           int `json:"rooms"`
	Calls           int `json:"calls"`
	GroupCalls      int `json:"groupCalls"`
	BackgroundTasks int `json:"backgroundTasks"`
}

// Stats collects the counters on the loop so they are consistent.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	result := make(chan Stats, 1)
	h.reactor.Post(func() {
		result <- Stats{
			Connections:     h.rooms.ConnCount(),
			OnlineUsers:     h.presence.Count(),
			Rooms:           h.rooms.RoomCount(),
			Calls:           h.calls.Count(),
			GroupCalls:      h.groupcalls.Count(),
			BackgroundTasks: h.reactor.WaitingTasks(),
		}
	})

	select {
	case stats := <-result:
		return stats, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.done:
		return Stats{}, context.Canceled
	}
}
