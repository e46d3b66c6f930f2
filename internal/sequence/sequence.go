// Package sequence hands out human-readable order numbers.
package sequence

import (
	"context"
	"fmt"
	"time"

	"levelup-loyalty/internal/store"
	"levelup-loyalty/internal/util"

	"go.uber.org/zap"
)

// Generator keeps one counter per namespace. The counter never resets; only
// the year segment of the formatted number follows the calendar.
//
// Next is not locked. Callers creating orders already hold the gateway's
// write lock.
type Generator struct {
	gw     *store.Gateway
	key    string
	now    func() time.Time
	logger *zap.Logger
}

// New creates a generator persisting its counter under counterKey
func New(gw *store.Gateway, counterKey string) *Generator {
	return &Generator{
		gw:     gw,
		key:    counterKey,
		now:    time.Now,
		logger: util.ComponentLogger("sequence"),
	}
}

// Next increments and persists the counter, then formats PREFIX-NNN-YYYY.
// If the counter cannot be persisted it returns PREFIX-<unix nanos> instead
// of failing.
func (g *Generator) Next(ctx context.Context, prefix string) string {
	ctx, span := util.StartSpan(ctx, "Sequence.Next")
	defer span.End()

	now := g.now()

	var counter int
	store.ReadScalar(ctx, g.gw, g.key, &counter)
	counter++

	batch := store.NewBatch("advance " + g.key)
	if err := batch.PutCollection(g.key, counter); err == nil {
		err = g.gw.Commit(ctx, batch)
		if err == nil {
			return Format(prefix, counter, now.Year())
		}
		g.logger.Warn("Failed to persist counter, using timestamp",
			zap.String("key", g.key),
			zap.Error(err))
	}

	util.SequenceFallbacksTotal.Inc()
	return fmt.Sprintf("%s-%d", prefix, now.UnixNano())
}

// Format renders an order number, e.g. CANJE-007-2025
func Format(prefix string, counter, year int) string {
	return fmt.Sprintf("%s-%03d-%d", prefix, counter, year)
}
