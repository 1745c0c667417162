// internal/middleware/helpers.go
package middleware

import (
	"defiers-auth/internal/service/auth"

	"github.com/gin-gonic/gin"
)

// MustGetUserID gets the user ID from context or panics
func MustGetUserID(c *gin.Context) string {
	userID, exists := GetUserID(c)
	if !exists {
		panic("user_id not found in context")
	}
	return userID
}

// MustGetIdentity gets the verified identity from context or panics
func MustGetIdentity(c *gin.Context) *auth.Identity {
	identity, exists := GetIdentity(c)
	if !exists {
		panic("identity not found in context")
	}
	return identity
}

// GetScopes gets token scopes from context
func GetScopes(c *gin.Context) []string {
	scopes, exists := c.Get(ctxScopes)
	if !exists {
		return []string{}
	}

	list, ok := scopes.([]string)
	if !ok || list == nil {
		return []string{}
	}

	return list
}

// IsAuthenticated checks if request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := GetIdentity(c)
	return exists
}
