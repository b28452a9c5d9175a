package transcriptstore

import (
	"context"
	"time"
)

// Utterance roles archived per connection.
const (
	RoleCaller = "caller"
	RoleAgent  = "agent"
)

// Record stores one finalized utterance from a streaming session.
type Record struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Role         string    `json:"role"`
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists and retrieves transcript history.
type Store interface {
	Save(ctx context.Context, record Record) error
	Recent(ctx context.Context, connectionID string, limit int) ([]Record, error)
	Close() error
}
