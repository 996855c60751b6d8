package models

import (
	"time"

	"github.com/uptrace/bun"
)

type StreamSession struct {
	bun.BaseModel `bun:"table:stream_sessions,alias:ss"`

	ID            string    `bun:"id,pk" json:"id"`
	UserID        string    `bun:"user_id,notnull" json:"userId"`
	EventID       string    `bun:"event_id,notnull" json:"eventId"`
	PpvPurchaseID string    `bun:"ppv_purchase_id,nullzero" json:"ppvPurchaseId,omitempty"`
	AccessToken   string    `bun:"access_token,notnull" json:"-"`
	IPAddress     string    `bun:"ip_address,nullzero" json:"ipAddress,omitempty"`
	UserAgent     string    `bun:"user_agent,nullzero" json:"userAgent,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"createdAt"`
	ExpiresAt     time.Time `bun:"expires_at,notnull" json:"expiresAt"`
	LastHeartbeat time.Time `bun:"last_heartbeat,notnull" json:"lastHeartbeat"`
	IsActive      bool      `bun:"is_active,notnull" json:"isActive"`
}

// Live reports whether the session still counts against the concurrency limit at t.
func (s *StreamSession) Live(t time.Time) bool {
	return s.IsActive && t.Before(s.ExpiresAt)
}

type StreamGrant struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	StreamURL string    `json:"streamUrl,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type StreamVerification struct {
	Valid     bool      `json:"valid"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	EventID   string    `json:"eventId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
