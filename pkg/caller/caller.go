// Package caller implements registration and credential lookup for API
// tracker callers: the identity, rate ceiling, and hashed/encrypted API
// key behind every authenticated request.
package caller

import "time"

// Caller is a registered API consumer.
type Caller struct {
	ID              string    `json:"caller_id"`
	Name            string    `json:"name"`
	Email           string    `json:"email"`
	Active          bool      `json:"-"`
	RateLimit       int       `json:"rate_limit"`
	APIKeyHash      string    `json:"-"`
	APIKeyPrefix    string    `json:"-"`
	APIKeyEncrypted string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	LastSeenAt      *time.Time `json:"-"`
}
