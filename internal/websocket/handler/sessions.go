// internal/websocket/handler/sessions.go
package handler

import (
	"context"
	"fmt"

	"defiers-auth/internal/domain/auth"
	wstypes "defiers-auth/internal/domain/websocket"
	"defiers-auth/internal/pkg/session"
	authUsecase "defiers-auth/internal/service/auth"
	ws "defiers-auth/internal/websocket"
)

// SessionLister lists a user's live sessions
type SessionLister interface {
	ActiveSessions(ctx context.Context, userID string) ([]*session.Session, error)
}

// SessionHandler answers session queries sent over the websocket
type SessionHandler struct {
	sessions SessionLister
}

func NewSessionHandler(sessions SessionLister) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// SupportedEvents returns events this handler supports
func (h *SessionHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{
		wstypes.EventTypeSessionList,
	}
}

// HandleMessage processes session-related messages
func (h *SessionHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	switch msg.Type {
	case wstypes.EventTypeSessionList:
		return h.handleList(ctx, client)
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

func (h *SessionHandler) handleList(ctx context.Context, client *ws.Client) error {
	sessions, err := h.sessions.ActiveSessions(ctx, client.UserID())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	out := authUsecase.SessionResponses(sessions, client.SessionID())
	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeSessionList, auth.SessionListResponse{
		Sessions: out,
		Count:    len(out),
	}))
	return nil
}
