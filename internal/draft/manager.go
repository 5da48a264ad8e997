package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Manager applies the draft lifetime rules on top of a Store.
type Manager struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// NewManager creates a new draft manager. A non-positive ttl means DefaultTTL.
func NewManager(store Store, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		logger: logger,
	}
}

// SetClock replaces the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// TTL returns the draft lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Save stores payload under key. Every save restarts the expiry countdown.
func (m *Manager) Save(ctx context.Context, key, kind string, payload json.RawMessage) (Draft, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Draft{}, ErrInvalidKey
	}
	if !json.Valid(payload) {
		return Draft{}, fmt.Errorf("draft %s: payload is not valid JSON", key)
	}

	now := m.now()
	d := Draft{
		Key:       key,
		Kind:      kind,
		Payload:   payload,
		SavedAt:   now,
		ExpiresAt: now.Add(m.ttl),
	}

	if err := m.store.Save(ctx, d); err != nil {
		return Draft{}, err
	}

	m.logger.Debug("Draft saved",
		zap.String("key", key),
		zap.String("kind", kind),
		zap.Time("expires_at", d.ExpiresAt))

	return d, nil
}

// Load returns the draft under key. An expired draft is deleted and reported as ErrExpired.
func (m *Manager) Load(ctx context.Context, key string) (Draft, error) {
	d, err := m.store.Get(ctx, key)
	if err != nil {
		return Draft{}, err
	}

	if d.Expired(m.now()) {
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.Warn("Failed to delete expired draft",
				zap.String("key", key),
				zap.Error(err))
		}
		m.logger.Info("Draft expired",
			zap.String("key", key),
			zap.Time("expired_at", d.ExpiresAt))
		return Draft{}, ErrExpired
	}

	return d, nil
}

// LoadInto decodes the draft payload into v.
func (m *Manager) LoadInto(ctx context.Context, key string, v any) (Draft, error) {
	d, err := m.Load(ctx, key)
	if err != nil {
		return Draft{}, err
	}
	if err := json.Unmarshal(d.Payload, v); err != nil {
		return Draft{}, fmt.Errorf("failed to decode draft %s: %w", key, err)
	}
	return d, nil
}

// List returns the drafts that have not expired yet.
func (m *Manager) List(ctx context.Context) ([]Draft, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	live := make([]Draft, 0, len(all))
	for _, d := range all {
		if !d.Expired(now) {
			live = append(live, d)
		}
	}
	return live, nil
}

// Discard deletes the draft under key, typically once the form was submitted.
func (m *Manager) Discard(ctx context.Context, key string) error {
	if err := m.store.Delete(ctx, key); err != nil {
		return err
	}
	m.logger.Debug("Draft discarded", zap.String("key", key))
	return nil
}

// PurgeExpired deletes every expired draft.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Info("Expired drafts purged", zap.Int64("count", n))
	}
	return n, nil
}

// IsGone reports whether err means the draft cannot be loaded anymore.
func IsGone(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired)
}
