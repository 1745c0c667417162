// internal/websocket/errors.go
package websocket

import "errors"

var (
	ErrSessionExpired = errors.New("session has expired")
	ErrHubClosed      = errors.New("websocket hub is closed")
)
