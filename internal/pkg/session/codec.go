package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// wireTimeLayout keeps microsecond precision, the resolution other readers of
// the same keys produce with isoformat().
const wireTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

var naiveTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// record is the stored JSON shape. device_info is itself a JSON document
// embedded as a string.
type record struct {
	SessionID    string          `json:"session_id"`
	UserID       string          `json:"user_id"`
	CreatedAt    string          `json:"created_at"`
	LastActivity string          `json:"last_activity"`
	DeviceInfo   json.RawMessage `json:"device_info"`
	IPAddress    string          `json:"ip_address"`
}

func Encode(s *Session) ([]byte, error) {
	device := s.DeviceInfo
	if device == nil {
		device = map[string]interface{}{}
	}
	deviceJSON, err := json.Marshal(device)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device info: %w", err)
	}
	deviceField, err := json.Marshal(string(deviceJSON))
	if err != nil {
		return nil, err
	}

	ip := s.IPAddress
	if ip == "" {
		ip = UnknownIPAddress
	}

	return json.Marshal(record{
		SessionID:    s.SessionID,
		UserID:       s.UserID,
		CreatedAt:    formatTime(s.CreatedAt),
		LastActivity: formatTime(s.LastActivity),
		DeviceInfo:   deviceField,
		IPAddress:    ip,
	})
}

// Decode parses a stored record. Any structural problem is reported as
// ErrCorruptRecord; the payload is only ever handed to a JSON decoder.
func Decode(data []byte) (*Session, error) {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if r.SessionID == "" || r.UserID == "" {
		return nil, fmt.Errorf("%w: missing session_id or user_id", ErrCorruptRecord)
	}

	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: created_at: %v", ErrCorruptRecord, err)
	}
	lastActivity, err := parseTime(r.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("%w: last_activity: %v", ErrCorruptRecord, err)
	}

	device, err := decodeDeviceInfo(r.DeviceInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: device_info: %v", ErrCorruptRecord, err)
	}

	ip := r.IPAddress
	if ip == "" {
		ip = UnknownIPAddress
	}

	return &Session{
		SessionID:    r.SessionID,
		UserID:       r.UserID,
		DeviceInfo:   device,
		IPAddress:    ip,
		CreatedAt:    createdAt,
		LastActivity: lastActivity,
	}, nil
}

// decodeDeviceInfo accepts the canonical string-embedded form and, for
// records written by hand, a bare JSON object.
func decodeDeviceInfo(raw json.RawMessage) (map[string]interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]interface{}{}, nil
	}

	doc := []byte(raw)
	if raw[0] == '"' {
		var embedded string
		if err := json.Unmarshal(raw, &embedded); err != nil {
			return nil, err
		}
		if embedded == "" {
			return map[string]interface{}{}, nil
		}
		doc = []byte(embedded)
	}

	var device map[string]interface{}
	if err := json.Unmarshal(doc, &device); err != nil {
		return nil, err
	}
	if device == nil {
		device = map[string]interface{}{}
	}
	return device, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(wireTimeLayout)
}

// parseTime accepts RFC 3339 and the zone-less form, which is read as UTC.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	var lastErr error
	for _, layout := range naiveTimeLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
