// Package events fans completion and reset events out to listeners.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/terra-clan/challenge-engine/internal/models"
)

// Listener handles one event. Errors are logged and otherwise ignored.
type Listener func(ctx context.Context, ev models.Event) error

// Bus delivers events to subscribers synchronously, best-effort.
// Order across listeners is unspecified.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[int]Listener
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{listeners: make(map[int]Listener)}
}

// Subscribe registers a listener and returns a func removing it
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Publish hands ev to every listener. A failing or panicking listener does
// not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, ev models.Event) {
	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		if err := deliver(ctx, l, ev); err != nil {
			slog.Warn("event listener failed",
				"type", ev.Type, "participant", ev.Participant, "world", ev.World, "error", err)
		}
	}
}

func deliver(ctx context.Context, l Listener, ev models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l(ctx, ev)
}

// Len returns the number of subscribed listeners
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
