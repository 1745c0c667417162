// internal/websocket/hub.go
package websocket

import (
	"context"
	"errors"
	"sync"

	wstypes "defiers-auth/internal/domain/websocket"
	"defiers-auth/internal/metrics"
	xerrors "defiers-auth/internal/pkg/errors"
	"defiers-auth/internal/pkg/session"
	"defiers-auth/internal/service/auth"

	"go.uber.org/zap"
)

// SessionLookup is the part of the session store the hub needs.
type SessionLookup interface {
	Get(ctx context.Context, sessionID string) (*session.Session, error)
}

type Hub struct {
	// Registered clients by user ID
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	// Registration/unregistration
	Register   chan *Client
	unregister chan *Client

	// Broadcasting
	broadcast chan *BroadcastMessage

	// Handler registry for modular message handling
	handlerRegistry *HandlerRegistry

	resolver *auth.Resolver
	sessions SessionLookup
	metrics  *metrics.Metrics
	logger   *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// BroadcastMessage targets the clients of UserIDs (all users when nil).
// With KickAll every client but the one on KeepSession gets the message and
// is disconnected. Otherwise the client on KickSession is disconnected and the
// rest receive the message if subscribed to Channel.
type BroadcastMessage struct {
	UserIDs     []string
	Channel     wstypes.ChannelType
	Message     *wstypes.WSMessage
	KickSession string
	KickAll     bool
	KeepSession string
}

func NewHub(resolver *auth.Resolver, sessions SessionLookup, m *metrics.Metrics, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:         make(map[string]map[*Client]bool),
		Register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan *BroadcastMessage, 256),
		handlerRegistry: NewHandlerRegistry(),
		resolver:        resolver,
		sessions:        sessions,
		metrics:         m,
		logger:          logger,
		done:            make(chan struct{}),
	}
}

// AuthenticateClient resolves the token and checks the session it names is still live
func (h *Hub) AuthenticateClient(ctx context.Context, token string) (*ClientAuth, error) {
	identity, err := h.resolver.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}

	if identity.SessionID == "" {
		return nil, ErrSessionExpired
	}
	sess, err := h.sessions.Get(ctx, identity.SessionID)
	if err != nil {
		if errors.Is(err, xerrors.ErrSessionNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, err
	}
	if sess.UserID != identity.UserID {
		return nil, xerrors.ErrOwnershipMismatch
	}

	return &ClientAuth{
		UserID:    identity.UserID,
		SessionID: identity.SessionID,
		Scopes:    identity.Scopes,
	}, nil
}

// RegisterHandler registers a message handler
func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

// HandleClientMessage dispatches msg to a registered handler and reports
// whether one existed.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	handler, exists := h.handlerRegistry.GetHandler(msg.Type)
	if !exists {
		return false, nil
	}

	return true, handler.HandleMessage(ctx, client, msg)
}

func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.BroadcastMessage(msg)
		}
	}
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Add registers client, failing once the hub has stopped.
func (h *Hub) Add(client *Client) error {
	select {
	case h.Register <- client:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true
	h.metrics.ConnOpened()

	h.logger.Info("websocket client connected",
		zap.String("user_id", client.userID),
		zap.String("session_id", client.sessionID),
		zap.Int("total", h.totalClients()),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"user_id":    client.userID,
		"session_id": client.sessionID,
		"scopes":     client.scopes,
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.userID]; ok {
		if _, exists := clients[client]; exists {
			delete(clients, client)
			client.Close()
			h.metrics.ConnClosed()

			if len(clients) == 0 {
				delete(h.clients, client.userID)
			}

			h.logger.Info("websocket client disconnected",
				zap.String("user_id", client.userID),
				zap.String("session_id", client.sessionID),
				zap.Int("total", h.totalClients()),
			)
		}
	}
}

func (h *Hub) BroadcastMessage(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	deliver := func(client *Client) {
		switch {
		case msg.KickAll:
			if client.sessionID != msg.KeepSession {
				client.Kick(msg.Message)
			}
		case msg.KickSession != "" && client.sessionID == msg.KickSession:
			client.Kick(msg.Message)
		case client.IsSubscribed(msg.Channel):
			client.SendMessage(msg.Message)
		}
	}

	if msg.UserIDs == nil {
		for _, clients := range h.clients {
			for client := range clients {
				deliver(client)
			}
		}
		return
	}

	for _, userID := range msg.UserIDs {
		for client := range h.clients[userID] {
			deliver(client)
		}
	}
}

func (h *Hub) enqueue(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping event",
			zap.String("type", string(msg.Message.Type)),
		)
	}
}

// ConnectedClients returns how many connections a user has open
func (h *Hub) ConnectedClients(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

// Session events

// SessionRevoked tells the user's connections that sessionID is gone and
// disconnects the connection bound to it.
func (h *Hub) SessionRevoked(userID, sessionID, reason string) {
	eventType := wstypes.EventTypeSessionRevoked
	if reason == metrics.ReasonInactivity {
		eventType = wstypes.EventTypeSessionExpired
	}

	h.enqueue(&BroadcastMessage{
		UserIDs: []string{userID},
		Channel: wstypes.ChannelSessions,
		Message: wstypes.NewMessage(eventType, wstypes.SessionEventData{
			SessionID: sessionID,
			Reason:    reason,
			Message:   "Session has ended",
		}),
		KickSession: sessionID,
	})
}

// ForceLogoutUser disconnects every connection of the user except the one
// bound to exceptSessionID.
func (h *Hub) ForceLogoutUser(userID, exceptSessionID, reason string) {
	h.enqueue(&BroadcastMessage{
		UserIDs: []string{userID},
		Channel: wstypes.ChannelSessions,
		Message: wstypes.NewMessage(wstypes.EventTypeForceLogout, wstypes.SessionEventData{
			Reason:  reason,
			Message: "You have been logged out",
		}),
		KickAll:     true,
		KeepSession: exceptSessionID,
	})
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, clients := range h.clients {
		for client := range clients {
			client.Close()
			h.metrics.ConnClosed()
		}
		delete(h.clients, userID)
	}
}
