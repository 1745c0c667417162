// internal/handlers/auth/auth_handler.go
package auth

import (
	"net/http"
	"strconv"

	"defiers-auth/internal/domain/auth"
	"defiers-auth/internal/middleware"
	"defiers-auth/internal/pkg/response"
	authUsecase "defiers-auth/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *authUsecase.AuthService
	resolver    *authUsecase.Resolver
	logger      *zap.Logger
}

func NewAuthHandler(authService *authUsecase.AuthService, resolver *authUsecase.Resolver, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		resolver:    resolver,
		logger:      logger,
	}
}

// ========== Current user ==========

// GetMe returns the verified identity and the user's live sessions
func (h *AuthHandler) GetMe(c *gin.Context) {
	identity := middleware.MustGetIdentity(c)

	sc, err := h.resolver.ContextFor(c.Request.Context(), identity)
	if err != nil {
		response.FromError(c, err)
		return
	}

	sessions := authUsecase.SessionResponses(sc.Sessions, identity.SessionID)
	scopes := identity.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	response.Success(c, http.StatusOK, "session context retrieved", auth.MeResponse{
		UserID:    identity.UserID,
		SessionID: identity.SessionID,
		Scopes:    scopes,
		ExpiresAt: identity.ExpiresAt,
		Sessions:  sessions,
		Count:     len(sessions),
	})
}

// ========== Sessions ==========

// ListSessions lists all live sessions of the current user
func (h *AuthHandler) ListSessions(c *gin.Context) {
	identity := middleware.MustGetIdentity(c)

	list, err := h.authService.ListSessions(c.Request.Context(), identity.UserID, identity.SessionID)
	if err != nil {
		h.logger.Error("failed to list sessions",
			zap.String("user_id", identity.UserID),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "sessions retrieved", list)
}

// RevokeSession revokes one of the current user's sessions by id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	userID := middleware.MustGetUserID(c)
	sessionID := c.Param("session_id")
	if sessionID == "" {
		response.ValidationError(c, "session_id is required", nil)
		return
	}

	if err := h.authService.RevokeSession(c.Request.Context(), userID, sessionID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "session "+sessionID+" revoked successfully", nil)
}

// SessionHistory returns the audit trail of the current user's sessions
func (h *AuthHandler) SessionHistory(c *gin.Context) {
	userID := middleware.MustGetUserID(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	history, err := h.authService.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.logger.Warn("failed to load session history",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "session history retrieved", history)
}

// ========== Logout ==========

// Logout revokes the session the presented token belongs to
func (h *AuthHandler) Logout(c *gin.Context) {
	identity := middleware.MustGetIdentity(c)

	if err := h.authService.Logout(c.Request.Context(), identity); err != nil {
		h.logger.Error("logout failed",
			zap.String("user_id", identity.UserID),
			zap.String("session_id", identity.SessionID),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "logged out successfully", nil)
}

// LogoutAll revokes every session of the current user. With keep_current=true
// the session making the request survives.
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	identity := middleware.MustGetIdentity(c)
	keepCurrent, _ := strconv.ParseBool(c.Query("keep_current"))

	res, err := h.authService.LogoutAll(c.Request.Context(), identity, keepCurrent)
	if err != nil {
		h.logger.Error("logout all failed",
			zap.String("user_id", identity.UserID),
			zap.Error(err),
		)
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "logged out from all devices ("+strconv.Itoa(res.Revoked)+" sessions revoked)", res)
}
