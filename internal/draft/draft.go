// Package draft keeps unsaved form state (exercises, duplication requests)
// for a limited time so an interrupted edit can be resumed.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long a draft stays loadable after its last save.
const DefaultTTL = 24 * time.Hour

var (
	ErrNotFound   = errors.New("draft not found")
	ErrExpired    = errors.New("draft expired")
	ErrInvalidKey = errors.New("draft key must not be empty")
)

// Draft is a saved, not yet submitted form.
type Draft struct {
	Key       string          `json:"key"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	SavedAt   time.Time       `json:"saved_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether d is past its expiry at now.
func (d Draft) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// Store persists drafts.
type Store interface {
	Get(ctx context.Context, key string) (Draft, error)
	Save(ctx context.Context, d Draft) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Draft, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
