package models

import "time"

// UserPresence is best-effort online state cached from inbound transport
// events. Never authoritative.
type UserPresence struct {
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}
