package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
)

// DefaultReloadChannel is the Postgres NOTIFY channel carrying world names
const DefaultReloadChannel = "challenge_reload"

// Reloader is the part of Loader the watcher drives
type Reloader interface {
	Reload(world string) error
	ReloadAll() error
}

// Watcher reloads worlds when a Postgres notification names them.
// An empty payload or "*" reloads every world.
type Watcher struct {
	loader  Reloader
	dsn     string
	channel string
}

// NewWatcher creates a watcher listening on channel
func NewWatcher(loader Reloader, dsn, channel string) *Watcher {
	if channel == "" {
		channel = DefaultReloadChannel
	}
	return &Watcher{loader: loader, dsn: dsn, channel: channel}
}

// Run listens until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	listener := pq.NewListener(w.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("reload listener event", "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(w.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.channel, err)
	}
	slog.Info("catalog watcher started", "channel", w.channel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("catalog watcher stopped")
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; notifications may have been missed
			if n == nil {
				w.handle("*")
				continue
			}
			w.handle(n.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				slog.Warn("reload listener ping failed", "error", err)
			}
		}
	}
}

func (w *Watcher) handle(payload string) {
	world := strings.TrimSpace(payload)
	if world == "" || world == "*" {
		if err := w.loader.ReloadAll(); err != nil {
			slog.Error("failed to reload worlds", "error", err)
		}
		return
	}
	if err := w.loader.Reload(world); err != nil {
		slog.Error("failed to reload world", "world", world, "error", err)
	}
}
