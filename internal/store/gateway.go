package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"levelup-loyalty/internal/models"
	"levelup-loyalty/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Gateway reads and writes keys through an ordered list of backends.
//
// Reads return the first answer and copy it into the non-authoritative
// backends further down the list. Read failures are never surfaced: a cold
// key falls back to the seed directory and then to "nothing".
//
// Writes go to the first backend that accepts the batch; the batch is then
// mirrored into later caches. When no backend accepts a write the caller
// gets models.ErrPersistenceUnavailable.
type Gateway struct {
	backends   []Backend
	seedDir    string
	retryAfter time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.Mutex
	downUntil map[string]time.Time

	writeMu sync.Mutex
}

// Option configures a Gateway
type Option func(*Gateway)

// WithSeedDir sets the directory holding <key>.json bootstrap documents
func WithSeedDir(dir string) Option {
	return func(g *Gateway) { g.seedDir = dir }
}

// WithRetryAfter sets how long a failed backend is skipped before it is pinged again
func WithRetryAfter(d time.Duration) Option {
	return func(g *Gateway) { g.retryAfter = d }
}

// NewGateway creates a gateway over backends, highest priority first
func NewGateway(backends []Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backends:   backends,
		retryAfter: 30 * time.Second,
		logger:     util.ComponentLogger("gateway"),
		now:        time.Now,
		downUntil:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Serialize runs fn while holding the gateway's write lock. Every
// read-validate-commit cycle goes through here so two requests in the same
// process cannot interleave their read-modify-write of a collection.
func (g *Gateway) Serialize(fn func() error) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	return fn()
}

// Get returns the raw value for key, or false when no backend or seed has it
func (g *Gateway) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, span := util.StartSpan(ctx, "Gateway.Get", attribute.String("key", key))
	defer span.End()

	value, found, _ := g.fetch(ctx, key)
	if found {
		return value, true
	}
	if ctx.Err() != nil {
		return nil, false
	}
	return g.bootstrap(ctx, key)
}

// Load is Get for read-modify-write cycles. It fails instead of reporting a
// cold key when no backend could answer, so callers never rebuild a
// collection from a read that did not happen.
func (g *Gateway) Load(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.Load", attribute.String("key", key))
	defer span.End()

	value, found, err := g.fetch(ctx, key)
	if found {
		return value, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	value, found = g.bootstrap(ctx, key)
	return value, found, nil
}

// fetch returns the first stored value for key. err is set when the caller's
// context ended or when no backend gave a definite answer.
func (g *Gateway) fetch(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	answered := false
	live := g.available(ctx)
	for i, b := range live {
		value, err := b.Get(ctx, key)
		if err == nil {
			g.warm(ctx, key, value, live[i+1:])
			return value, true, nil
		}
		if errors.Is(err, ErrKeyNotFound) {
			answered = true
			continue
		}
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		g.markDown(b, "read", err)
	}

	if !answered {
		return nil, false, models.ErrPersistenceUnavailable.WithContext("key", key, "op", "read")
	}
	return nil, false, nil
}

func (g *Gateway) bootstrap(ctx context.Context, key string) ([]byte, bool) {
	value, ok := g.loadSeed(key)
	if !ok {
		return nil, false
	}
	g.warm(ctx, key, value, g.available(ctx))
	return value, true
}

// Commit applies batch on the first backend that accepts it. A batch is never
// moved to a lower backend because the caller's context ended.
func (g *Gateway) Commit(ctx context.Context, batch *Batch) error {
	ctx, span := util.StartSpan(ctx, "Gateway.Commit",
		attribute.String("batch_id", batch.ID),
		attribute.String("reason", batch.Reason))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit %s: %w", batch.ID, err)
	}

	start := time.Now()
	defer func() {
		util.GatewayCommitLatency.Observe(time.Since(start).Seconds())
	}()

	live := g.available(ctx)
	for i, b := range live {
		err := b.Commit(ctx, batch)
		if err == nil {
			g.mirror(ctx, batch, live[i+1:])
			return nil
		}
		if errors.Is(err, ErrUnsupported) {
			continue
		}
		if ctx.Err() != nil {
			return fmt.Errorf("commit %s on %s: %w", batch.ID, b.Name(), ctx.Err())
		}
		g.markDown(b, "write", err)
	}

	g.logger.Error("No backend accepted batch",
		zap.String("batch_id", batch.ID),
		zap.String("reason", batch.Reason),
		zap.Strings("keys", batch.Keys()))
	return models.ErrPersistenceUnavailable.WithContext(
		"batch_id", batch.ID,
		"keys", batch.Keys(),
	)
}

// Journal returns up to limit write-ahead entries from the first reachable
// backend that keeps a journal, and that backend's name
func (g *Gateway) Journal(ctx context.Context, limit int) ([]*Batch, string, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.Journal")
	defer span.End()

	for _, b := range g.available(ctx) {
		j, ok := b.(Journaler)
		if !ok {
			continue
		}
		batches, err := j.Journal(ctx, limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			g.logger.Warn("Failed to read journal", zap.String("backend", b.Name()), zap.Error(err))
			continue
		}
		return batches, b.Name(), nil
	}
	return nil, "", models.ErrPersistenceUnavailable.WithContext("op", "journal")
}

// Close closes every backend
func (g *Gateway) Close() error {
	var firstErr error
	for _, b := range g.backends {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Health reports, per backend, whether it is currently considered reachable
func (g *Gateway) Health(ctx context.Context) map[string]bool {
	live := g.available(ctx)
	status := make(map[string]bool, len(g.backends))
	for _, b := range g.backends {
		status[b.Name()] = false
	}
	for _, b := range live {
		status[b.Name()] = true
	}
	return status
}

// available returns the backends worth trying right now. A backend that
// failed recently is skipped until its retry window expires, then pinged.
func (g *Gateway) available(ctx context.Context) []Backend {
	now := g.now()
	live := make([]Backend, 0, len(g.backends))
	for _, b := range g.backends {
		g.mu.Lock()
		until, down := g.downUntil[b.Name()]
		g.mu.Unlock()

		if down {
			if now.Before(until) {
				continue
			}
			if err := b.Ping(ctx); err != nil {
				if ctx.Err() == nil {
					g.markDown(b, "ping", err)
				}
				continue
			}
			g.mu.Lock()
			delete(g.downUntil, b.Name())
			g.mu.Unlock()
			g.logger.Info("Backend reachable again", zap.String("backend", b.Name()))
		}
		live = append(live, b)
	}
	return live
}

func (g *Gateway) markDown(b Backend, op string, err error) {
	util.GatewayFallbacksTotal.WithLabelValues(b.Name(), op).Inc()
	g.logger.Warn("Backend failed, falling back",
		zap.String("backend", b.Name()),
		zap.String("op", op),
		zap.Error(err))

	g.mu.Lock()
	g.downUntil[b.Name()] = g.now().Add(g.retryAfter)
	g.mu.Unlock()
}

func (g *Gateway) warm(ctx context.Context, key string, value []byte, targets []Backend) {
	var batch *Batch
	for _, b := range targets {
		if b.Authoritative() {
			continue
		}
		if current, err := b.Get(ctx, key); err == nil && bytes.Equal(current, value) {
			continue
		}
		if batch == nil {
			batch = NewBatch("warm " + key)
			batch.Put(key, value)
		}
		if err := b.Commit(ctx, batch); err != nil && !errors.Is(err, ErrUnsupported) {
			g.logger.Error("Failed to warm cache",
				zap.String("backend", b.Name()),
				zap.String("key", key),
				zap.Error(err))
		}
	}
}

func (g *Gateway) mirror(ctx context.Context, batch *Batch, targets []Backend) {
	for _, b := range targets {
		if b.Authoritative() {
			continue
		}
		if err := b.Commit(ctx, batch); err != nil && !errors.Is(err, ErrUnsupported) {
			g.logger.Error("Failed to mirror batch",
				zap.String("backend", b.Name()),
				zap.String("batch_id", batch.ID),
				zap.Error(err))
		}
	}
}

func (g *Gateway) loadSeed(key string) ([]byte, bool) {
	if g.seedDir == "" {
		return nil, false
	}

	path := filepath.Join(g.seedDir, key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("Failed to read seed", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}
	if !json.Valid(data) {
		g.logger.Warn("Seed is not valid JSON", zap.String("path", path))
		return nil, false
	}

	util.GatewaySeedBootstrapsTotal.Inc()
	g.logger.Info("Bootstrapped key from seed", zap.String("key", key), zap.String("path", path))
	return data, true
}

// ReadCollection decodes the JSON array stored under key. Missing or
// undecodable data yields an empty slice.
func ReadCollection[T any](ctx context.Context, g *Gateway, key string) []T {
	raw, ok := g.Get(ctx, key)
	if !ok {
		return []T{}
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		g.logger.Warn("Failed to decode collection", zap.String("key", key), zap.Error(err))
		return []T{}
	}
	if out == nil {
		out = []T{}
	}
	return out
}

// LoadCollection decodes the JSON array stored under key for a caller that
// will write the collection back. Unreachable storage and undecodable data
// are errors; only a key no backend holds yields an empty slice.
func LoadCollection[T any](ctx context.Context, g *Gateway, key string) ([]T, error) {
	raw, ok, err := g.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		g.logger.Error("Stored collection is corrupt", zap.String("key", key), zap.Error(err))
		return nil, models.ErrPersistenceUnavailable.WithContext("key", key, "op", "decode")
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}

// ReadScalar decodes the JSON value stored under key into dst
func ReadScalar(ctx context.Context, g *Gateway, key string, dst interface{}) bool {
	raw, ok := g.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		g.logger.Warn("Failed to decode scalar", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
