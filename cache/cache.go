package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"prop-ledger/config"
	"prop-ledger/models"
	"prop-ledger/observability"
)

const snapshotVersion = 1

// envelope is the persisted form of a snapshot
type envelope struct {
	Version  int                   `json:"version"`
	SavedAt  time.Time             `json:"saved_at"`
	Snapshot models.LedgerSnapshot `json:"snapshot"`
}

// codec is the sonic configuration compatible with encoding/json, so the
// decimal and time marshalers are honoured
var codec = sonic.ConfigStd

// Cache is the typed view over a Store used by the ledger engine
type Cache struct {
	store   Store
	backend string
	metrics *observability.Metrics
}

// New wraps store. backend names the store in logs and metrics.
func New(store Store, backend string, metrics *observability.Metrics) *Cache {
	if metrics == nil {
		metrics = observability.GetMetrics()
	}
	return &Cache{store: store, backend: backend, metrics: metrics}
}

// Open builds the Store selected by cfg
func Open(ctx context.Context, cfg config.CacheConfig, metrics *observability.Metrics) (*Cache, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case "file", "":
		store, err = NewFileStore(cfg.Dir, cfg.Passphrase)
	case "postgres":
		store, err = NewPostgresStore(ctx, cfg.DatabaseURL)
	case "sqlite":
		store, err = NewSQLiteStore(ctx, cfg.SQLitePath)
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Backend, err)
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "file"
	}
	return New(store, backend, metrics), nil
}

// Backend returns the store name
func (c *Cache) Backend() string {
	return c.backend
}

// LoadSnapshot returns the last saved snapshot, or nil when none exists
func (c *Cache) LoadSnapshot(ctx context.Context) (*models.LedgerSnapshot, error) {
	data, err := c.store.Get(ctx, KeySnapshot)
	if errors.Is(err, ErrNotFound) {
		c.record("load_snapshot", "miss")
		return nil, nil
	}
	if err != nil {
		c.record("load_snapshot", "error")
		return nil, err
	}

	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		c.record("load_snapshot", "error")
		return nil, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	if env.Version != snapshotVersion {
		c.record("load_snapshot", "miss")
		observability.Warn("discarding cached snapshot with unknown version", "version", env.Version)
		return nil, nil
	}
	c.record("load_snapshot", "hit")
	return &env.Snapshot, nil
}

// SaveSnapshot overwrites the cached snapshot. Unconfirmed positions and the
// staleness flag are never persisted.
func (c *Cache) SaveSnapshot(ctx context.Context, snap models.LedgerSnapshot) error {
	confirmed := snap.Confirmed()
	confirmed.Stale = false
	confirmed.StaleReason = ""
	confirmed.RiskAlert = nil

	data, err := codec.Marshal(envelope{
		Version:  snapshotVersion,
		SavedAt:  time.Now().UTC(),
		Snapshot: confirmed,
	})
	if err != nil {
		c.record("save_snapshot", "error")
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := c.store.Put(ctx, KeySnapshot, data); err != nil {
		c.record("save_snapshot", "error")
		return err
	}
	c.record("save_snapshot", "ok")
	return nil
}

// LoadToken returns the persisted session token, or "" when none exists
func (c *Cache) LoadToken(ctx context.Context) (string, error) {
	data, err := c.store.Get(ctx, KeySession)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		c.record("load_token", "error")
		return "", err
	}
	return string(data), nil
}

// SaveToken persists the session token
func (c *Cache) SaveToken(ctx context.Context, token string) error {
	if err := c.store.Put(ctx, KeySession, []byte(token)); err != nil {
		c.record("save_token", "error")
		return err
	}
	c.record("save_token", "ok")
	return nil
}

// ClearSnapshot removes the cached snapshot
func (c *Cache) ClearSnapshot(ctx context.Context) error {
	return c.store.Delete(ctx, KeySnapshot)
}

// ClearToken removes the session token
func (c *Cache) ClearToken(ctx context.Context) error {
	return c.store.Delete(ctx, KeySession)
}

// Clear removes both entries
func (c *Cache) Clear(ctx context.Context) error {
	return errors.Join(c.ClearSnapshot(ctx), c.ClearToken(ctx))
}

// Close releases the store
func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) record(op, result string) {
	c.metrics.RecordCacheOperation(c.backend, op, result)
}
