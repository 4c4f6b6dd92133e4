package models

import "time"

// Credential is the delivery authorization of one owner on one channel account.
type Credential struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	ChannelAccountID string    `json:"channel_account_id"`
	AccessToken      string    `json:"-"`
	ExpiresAt        time.Time `json:"expires_at"`
	NeedsReconnect   bool      `json:"needs_reconnect"`
	ReconnectReason  string    `json:"reconnect_reason,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ExpiresWithin reports whether the token expires before now+window.
func (c *Credential) ExpiresWithin(now time.Time, window time.Duration) bool {
	return !c.ExpiresAt.After(now.Add(window))
}

// InboundEvent is a raw webhook delivery captured before any processing.
type InboundEvent struct {
	ID          int64      `json:"id"`
	Payload     []byte     `json:"payload"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}
