// internal/domain/auth/dto.go
package auth

import "time"

// TokenPair is returned to the login flow after a session has been started.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"expires_at"`
	SessionID    string    `json:"session_id"`
}

// SessionResponse is a single session as shown to its owner
type SessionResponse struct {
	SessionID    string                 `json:"session_id"`
	UserID       string                 `json:"user_id"`
	DeviceInfo   map[string]interface{} `json:"device_info"`
	IPAddress    string                 `json:"ip_address"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	Current      bool                   `json:"current"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
	Count    int               `json:"count"`
}

// LogoutAllResponse reports how many sessions a logout-all removed
type LogoutAllResponse struct {
	Revoked     int  `json:"revoked"`
	KeptCurrent bool `json:"kept_current"`
}

type SessionHistoryResponse struct {
	Events []SessionEvent `json:"events"`
	Count  int            `json:"count"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
}

// MeResponse is the caller's identity together with their live sessions
type MeResponse struct {
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id,omitempty"`
	Scopes    []string          `json:"scopes"`
	ExpiresAt time.Time         `json:"expires_at"`
	Sessions  []SessionResponse `json:"sessions"`
	Count     int               `json:"count"`
}
