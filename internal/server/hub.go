package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/relay"
	"go.uber.org/zap"
)

// inbound is a validated frame waiting for the hub loop.
type inbound struct {
	client   *Client
	envelope Envelope
}

// Hub owns every live connection and the relay state built on top of them.
// Register, unregister and inbound events are handled one at a time by Run,
// so a join, a send and a disconnect never interleave.
type Hub struct {
	cfg     Config
	clients map[relay.ConnID]*Client

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound

	registry   *relay.Registry
	router     *relay.Router
	presence   *relay.Broadcaster
	dispatcher *relay.Dispatcher

	metrics *metrics.Metrics
	log     *zap.Logger

	mutex  sync.RWMutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. messages may be nil, in which case nothing is persisted;
// a nil m or log is replaced by a private registry or a no-op logger.
func NewHub(cfg Config, messages relay.MessageStore, m *metrics.Metrics, log *zap.Logger) *Hub {
	cfg = sanitizeConfig(cfg)
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("hub")

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[relay.ConnID]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound),
		registry:   relay.NewRegistry(),
		router:     relay.NewRouter(),
		metrics:    m,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.presence = relay.NewBroadcaster(h.registry, h, m, log.Named("presence"))
	h.dispatcher = relay.NewDispatcher(h.registry, h.router, messages, h,
		relay.WithEchoToSender(cfg.EchoToSender),
		relay.WithRecorder(m),
		relay.WithLogger(log.Named("dispatcher")))
	return h
}

// Dispatcher exposes the hub's dispatcher, used by the HTTP history endpoint.
func (h *Hub) Dispatcher() *relay.Dispatcher {
	return h.dispatcher
}

// Registry exposes the hub's connection registry.
func (h *Hub) Registry() *relay.Registry {
	return h.registry
}

// Register hands a new client to the hub loop.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// leave queues the client for removal. It gives up once the hub has stopped.
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// submit queues a validated frame. It returns false once the hub has stopped.
func (h *Hub) submit(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Send implements relay.Sender. It never blocks: a full buffer reports false.
func (h *Hub) Send(conn relay.ConnID, frame []byte) bool {
	return h.safeSend(conn, frame)
}

func (h *Hub) safeSend(conn relay.ConnID, message []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Recovered from panic in safeSend", zap.Any("panic", r))
			sent = false
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	client, exists := h.clients[conn]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// replyError sends an error event to one connection.
func (h *Hub) replyError(conn relay.ConnID, reason string) {
	frame, err := relay.EncodeError(reason)
	if err != nil {
		h.log.Error("Encoding error event failed", zap.Error(err))
		return
	}
	h.safeSend(conn, frame)
}

// Run starts the hub's main event loop. It returns when ctx is cancelled or
// Shutdown is called, after closing every client connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.cancel()
			h.shutdownClients()
			return

		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("Received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.disconnect(client)

		case in := <-h.inbound:
			h.handleInbound(in)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.Connections.Set(float64(clientCount))
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

// disconnect removes a client from the hub and from the relay state. Losing a
// user's last connection triggers one presence broadcast.
func (h *Hub) disconnect(client *Client) {
	h.mutex.Lock()
	if current, ok := h.clients[client.id]; ok && current == client {
		delete(h.clients, client.id)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		// Close the channel after releasing the lock
		close(client.send)
		h.metrics.Connections.Set(float64(clientCount))
		client.log.Info("Client unregistered", zap.Int("clients", clientCount))
	} else {
		h.mutex.Unlock()
	}

	user, result := h.registry.Remove(client.id)
	left := h.router.RemoveConn(client.id)
	h.updateGauges()

	if result == relay.NotFound {
		return
	}
	client.log.Info("Connection left",
		zap.String("user", string(user)),
		zap.Stringer("result", result),
		zap.Int("rooms", len(left)))
	if result == relay.WentOffline {
		h.broadcastPresence()
	}
}

// dropSlow disconnects clients whose send buffer was full.
func (h *Hub) dropSlow(conns []relay.ConnID) {
	for _, conn := range conns {
		h.mutex.RLock()
		client, ok := h.clients[conn]
		h.mutex.RUnlock()
		if !ok {
			continue
		}
		h.metrics.DroppedClients.Inc()
		client.log.Warn("Client removed due to full send buffer")
		h.disconnect(client)
	}
}

func (h *Hub) broadcastPresence() {
	h.dropSlow(h.presence.NotifyAll())
}

func (h *Hub) updateGauges() {
	h.metrics.OnlineUsers.Set(float64(h.registry.Len()))
	h.metrics.Rooms.Set(float64(h.router.Len()))
}

func (h *Hub) handleInbound(in inbound) {
	h.mutex.RLock()
	_, live := h.clients[in.client.id]
	h.mutex.RUnlock()
	if !live {
		return
	}

	env := in.envelope
	switch env.Type {
	case relay.EventJoin:
		h.handleJoin(in.client, env.UserID)
	case relay.EventJoinChat:
		h.handleJoinChat(in.client, env.SenderID, env.ReceiverID)
	case relay.EventSendMessage:
		h.handleSend(in.client, env.SenderID, env.ReceiverID, env.Message)
	case relay.EventHistory:
		h.handleHistory(in.client, env.SenderID, env.ReceiverID)
	}
}

func (h *Hub) handleJoin(client *Client, user relay.UserID) {
	result := h.registry.Register(user, client.id)

	fields := []zap.Field{zap.String("user", string(user)), zap.Bool("cameOnline", result.CameOnline)}
	if result.Displaced != "" {
		// Rooms were joined under the previous identity.
		left := h.router.RemoveConn(client.id)
		fields = append(fields,
			zap.String("displaced", string(result.Displaced)),
			zap.Int("roomsLeft", len(left)))
	}
	h.updateGauges()
	client.log.Info("Client joined", fields...)

	if result.PresenceChanged() {
		h.broadcastPresence()
		return
	}
	if !h.presence.NotifyOne(client.id) {
		h.dropSlow([]relay.ConnID{client.id})
	}
}

func (h *Hub) handleJoinChat(client *Client, sender, receiver relay.UserID) {
	key := relay.Key(sender, receiver)
	if h.router.Join(client.id, key) {
		h.updateGauges()
		client.log.Debug("Joined room",
			zap.String("sender", string(sender)),
			zap.String("receiver", string(receiver)))
	}
}

func (h *Hub) handleSend(client *Client, sender, receiver relay.UserID, payload string) {
	delivery := h.dispatcher.Dispatch(h.ctx, client.id, sender, receiver, payload)
	h.dropSlow(delivery.Failed)
}

// handleHistory loads the conversation off the loop and replies to the
// requesting connection only.
func (h *Hub) handleHistory(client *Client, a, b relay.UserID) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		messages, err := h.dispatcher.History(h.ctx, a, b)
		if err != nil {
			client.log.Error("Loading history failed", zap.Error(err))
			h.replyError(client.id, "history unavailable")
			return
		}
		frame, err := relay.EncodeHistory(messages)
		if err != nil {
			client.log.Error("Encoding history failed", zap.Error(err))
			return
		}
		h.safeSend(client.id, frame)
	}()
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.log.Info("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for id, client := range h.clients {
		clients = append(clients, client)
		client.closed = true
		delete(h.clients, id)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					client.log.Warn("Error closing client connection", zap.Error(err))
				}
			}
		}
	}
	h.registry.Reset()
	h.router.Reset()
	h.metrics.Connections.Set(0)
	h.updateGauges()

	h.log.Info("Closed client connections", zap.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete, including pending message persistence. It returns
// context.DeadlineExceeded when timeout elapses first.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")

	h.cancel()

	done := make(chan struct{})
	go func() {
		<-h.done
		h.wg.Wait()
		h.dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
