// internal/domain/auth/entity.go
package auth

import "time"

// Session audit event kinds
const (
	EventCreated = "created"
	EventRevoked = "revoked"
)

// SessionEvent is one row of the session audit trail
type SessionEvent struct {
	ID        int64     `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Event     string    `json:"event" db:"event"`   // created, revoked
	Reason    string    `json:"reason" db:"reason"` // logout, logout_all, revoked, inactivity
	IPAddress string    `json:"ip_address" db:"ip_address"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
