// Package ws bridges the Redis signal bus to WebSocket clients. Each client
// joins auction rooms and receives that room's broadcasts; bids submitted
// over the socket go through the same acceptor as REST bids.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bidvault/bidvault/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// busChannels are the pub/sub channels the hub bridges to clients.
var busChannels = []string{
	"auction:*",
	domain.NotificationChannel,
}

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins. In production, restrict this to known origins.
		return true
	},
}

// BidSubmitter accepts one bid submission, returning a rejection or a result.
type BidSubmitter interface {
	SubmitBid(ctx context.Context, auctionID, userID string, amount float64) (domain.BidResult, error)
}

// SnapshotProvider fetches the room snapshot sent to freshly joined clients.
type SnapshotProvider interface {
	GetSnapshot(ctx context.Context, auctionID string) (domain.SnapshotEvent, error)
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	rooms  map[string]bool // joined auction IDs
	mu     sync.RWMutex
}

// clientMsg is the JSON message a client sends over the socket.
//
//	{"action":"join","auctionId":"..."}
//	{"action":"leave","auctionId":"..."}
//	{"action":"bid","auctionId":"...","amount":150}
type clientMsg struct {
	Action    string  `json:"action"`
	AuctionID string  `json:"auctionId"`
	Amount    float64 `json:"amount"`
}

// bidErrorPayload is the private payload sent to a client whose socket bid
// was rejected.
type bidErrorPayload struct {
	AuctionID string `json:"auctionId"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// broadcastMsg carries a bus message along with its source channel so the hub
// can route it only to clients in the matching room.
type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub manages connected WebSocket clients, routes room broadcasts from the
// signal bus, and serves join/leave/bid actions.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	bids       BidSubmitter
	snapshots  SnapshotProvider
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub bridging the signal bus to WebSocket clients. bids and
// snapshots may be nil, in which case the corresponding socket actions are
// refused.
func NewHub(bus domain.SignalBus, bids BidSubmitter, snapshots SnapshotProvider, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		bids:       bids,
		snapshots:  snapshots,
		logger:     logger,
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range busChannels {
		go h.subscribeToChannel(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.wantsChannel(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						// Client's send buffer is full; drop the message.
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribeToChannel subscribes to a single bus channel (or pattern) and
// forwards received messages to the hub's broadcast channel. Routing uses the
// concrete channel each message was published on, not the pattern.
func (h *Hub) subscribeToChannel(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			h.broadcast <- broadcastMsg{channel: msg.Channel, data: msg.Payload}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. The userId query parameter attributes socket bids.
// GET /ws?userId=...
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: r.URL.Query().Get("userId"),
		rooms:  make(map[string]bool),
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads messages from the WebSocket connection and dispatches
// join/leave/bid actions.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		c.handleAction(msg)
	}
}

// handleAction dispatches one inbound client message.
func (c *client) handleAction(msg clientMsg) {
	if msg.AuctionID == "" {
		return
	}

	switch strings.ToLower(msg.Action) {
	case "join":
		c.mu.Lock()
		c.rooms[msg.AuctionID] = true
		c.mu.Unlock()
		c.sendSnapshot(msg.AuctionID)

	case "leave":
		c.mu.Lock()
		delete(c.rooms, msg.AuctionID)
		c.mu.Unlock()

	case "bid":
		c.submitBid(msg)
	}
}

// sendSnapshot fetches and privately delivers the room snapshot so a late
// joiner starts from consistent state.
func (c *client) sendSnapshot(auctionID string) {
	if c.hub.snapshots == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := c.hub.snapshots.GetSnapshot(ctx, auctionID)
	if err != nil {
		c.hub.logger.Warn("ws: snapshot fetch failed",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
		return
	}

	data, err := domain.Wrap(domain.EventSnapshot, snap)
	if err != nil {
		return
	}
	c.deliver(data)
}

// submitBid runs the socket bid through the shared acceptor. A rejection goes
// back to this client only; an accepted bid reaches the room via the bus.
func (c *client) submitBid(msg clientMsg) {
	if c.hub.bids == nil || c.userID == "" {
		c.sendBidError(msg.AuctionID, string(domain.ReasonNotFound), "bidding requires a userId on connect")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.hub.bids.SubmitBid(ctx, msg.AuctionID, c.userID, msg.Amount)
	if err == nil {
		return
	}

	if rej, ok := domain.AsRejection(err); ok {
		c.sendBidError(msg.AuctionID, string(rej.Reason), rej.Message)
		return
	}

	c.hub.logger.Error("ws: bid submission failed",
		slog.String("auction_id", msg.AuctionID),
		slog.String("error", err.Error()),
	)
	c.sendBidError(msg.AuctionID, string(domain.ReasonPersistence), "bid could not be processed")
}

// sendBidError privately delivers a bid_error envelope to this client.
func (c *client) sendBidError(auctionID, reason, message string) {
	data, err := domain.Wrap(domain.EventBidError, bidErrorPayload{
		AuctionID: auctionID,
		Reason:    reason,
		Message:   message,
	})
	if err != nil {
		return
	}
	c.deliver(data)
}

// deliver queues a private message for this client, dropping it when the
// buffer is full.
func (c *client) deliver(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// wantsChannel reports whether this client should receive a message published
// on the given bus channel. Notifications go to everyone; room broadcasts
// only to members.
func (c *client) wantsChannel(channel string) bool {
	if channel == domain.NotificationChannel {
		return true
	}

	auctionID, ok := strings.CutPrefix(channel, "auction:")
	if !ok {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rooms[auctionID]
}

// writePump pumps messages from the hub to the WebSocket connection as JSON
// text frames, with periodic ping frames for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
