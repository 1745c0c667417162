// internal/middleware/auth_middleware.go
package middleware

import (
	"errors"
	"net/http"

	"defiers-auth/internal/pkg/response"
	"defiers-auth/internal/service/auth"

	"github.com/gin-gonic/gin"
)

const (
	ctxIdentity  = "identity"
	ctxUserID    = "user_id"
	ctxSessionID = "session_id"
	ctxJTI       = "jti"
	ctxScopes    = "scopes"
)

type AuthMiddleware struct {
	resolver *auth.Resolver
}

func NewAuthMiddleware(resolver *auth.Resolver) *AuthMiddleware {
	return &AuthMiddleware{
		resolver: resolver,
	}
}

// Auth resolves the bearer token and stores the verified identity on the context
func (m *AuthMiddleware) Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := m.resolver.ResolveHeader(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			response.FromError(c, err)
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

// OptionalAuth sets the identity when a valid token is presented and never aborts
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		identity, err := m.resolver.ResolveHeader(c.Request.Context(), header)
		if err == nil {
			setIdentity(c, identity)
		}
		c.Next()
	}
}

// RequireScope requires at least one of the given scopes.
// MUST be used after Auth()
func (m *AuthMiddleware) RequireScope(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			response.Unauthorized(c, "authentication required")
			return
		}

		for _, scope := range scopes {
			if identity.HasScope(scope) {
				c.Next()
				return
			}
		}

		response.Error(c, http.StatusForbidden, "insufficient scope", errors.New("token lacks required scope"), map[string]interface{}{
			"required_scopes": scopes,
		})
	}
}

// WithScope returns Auth followed by RequireScope
func (m *AuthMiddleware) WithScope(scopes ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{
		m.Auth(),
		m.RequireScope(scopes...),
	}
}

func setIdentity(c *gin.Context, identity *auth.Identity) {
	c.Set(ctxIdentity, identity)
	c.Set(ctxUserID, identity.UserID)
	c.Set(ctxSessionID, identity.SessionID)
	c.Set(ctxJTI, identity.TokenID)
	c.Set(ctxScopes, identity.Scopes)
}

// GetIdentity returns the identity set by Auth
func GetIdentity(c *gin.Context) (*auth.Identity, bool) {
	v, exists := c.Get(ctxIdentity)
	if !exists {
		return nil, false
	}

	identity, ok := v.(*auth.Identity)
	return identity, ok
}

func GetUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(ctxUserID)
	return userID, userID != ""
}

// GetSessionID returns the session named in the token, if any
func GetSessionID(c *gin.Context) (string, bool) {
	sessionID := c.GetString(ctxSessionID)
	return sessionID, sessionID != ""
}

func GetJTI(c *gin.Context) (string, bool) {
	jti := c.GetString(ctxJTI)
	return jti, jti != ""
}
