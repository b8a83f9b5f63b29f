// Package cleanup runs the reset audit retention worker.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// AuditPruner deletes reset audit entries older than a cutoff
type AuditPruner interface {
	PruneResetAudit(ctx context.Context, before time.Time) (int, error)
}

// Cleaner periodically prunes reset audit entries past their retention
type Cleaner struct {
	store     AuditPruner
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

// NewCleaner creates a new cleanup worker. A non-positive retention keeps
// the audit trail forever.
func NewCleaner(store AuditPruner, interval, retention time.Duration) *Cleaner {
	if interval <= 0 {
		interval = time.Hour
	}

	return &Cleaner{
		store:     store,
		interval:  interval,
		retention: retention,
		now:       time.Now,
	}
}

// Start begins the cleanup worker in a goroutine
func (c *Cleaner) Start(ctx context.Context) {
	if c.retention <= 0 {
		slog.Info("audit retention disabled, cleanup worker not started")
		return
	}
	go c.run(ctx)
}

func (c *Cleaner) run(ctx context.Context) {
	slog.Info("cleanup worker started", "interval", c.interval, "retention", c.retention)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.cleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			c.cleanup(ctx)
		}
	}
}

// cleanup runs one pruning cycle and returns the number of entries removed
func (c *Cleaner) cleanup(ctx context.Context) int {
	cutoff := c.now().Add(-c.retention)
	slog.Debug("running cleanup cycle", "cutoff", cutoff)

	pruned, err := c.store.PruneResetAudit(ctx, cutoff)
	if err != nil {
		slog.Error("failed to prune reset audit", "error", err)
		return 0
	}
	if pruned > 0 {
		slog.Info("pruned reset audit entries", "count", pruned, "cutoff", cutoff)
	}
	return pruned
}
