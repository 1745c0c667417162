// internal/pkg/session/types.go
package session

import (
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	DefaultTTL               = 24 * time.Hour
	DefaultInactivityTimeout = 30 * time.Minute
	UnknownIPAddress         = "unknown"
)

// Session is one per-device login instance. Its presence in Redis means it is
// potentially active; the key expires at CreatedAt + the TTL given to Create.
type Session struct {
	SessionID    string                 `json:"session_id"`
	UserID       string                 `json:"user_id"`
	DeviceInfo   map[string]interface{} `json:"device_info"`
	IPAddress    string                 `json:"ip_address"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
}

// IdleFor reports how long the session has gone without activity at now.
func (s *Session) IdleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// NewID returns a fresh, lexically sortable session id.
func NewID() string {
	return ulid.Make().String()
}
