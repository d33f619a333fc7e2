// Package bus propagates committed changes to observers that keep derived
// view state current.
//
// The bus is not a source of truth. Changes carry identity only, and
// observers re-read the store when refreshed. Writers hand changes to
// Notify, which never blocks and never fails, so a write completes whether
// or not anything is listening.
//
// # Coalescing
//
// Changes to the same entity that arrive before a drain collapse into one,
// and Run waits a debounce window after the first signal so a burst of
// writes produces one refresh per observer.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/storydesk/internal/domain"
	"github.com/roach88/storydesk/internal/metrics"
)

// DefaultDebounce is how long Run lets a burst accumulate.
const DefaultDebounce = 50 * time.Millisecond

// Observer is refreshed with the coalesced changes of one drain.
type Observer interface {
	Name() string
	Refresh(ctx context.Context, changes []domain.Change) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc struct {
	ObserverName string
	Fn           func(ctx context.Context, changes []domain.Change) error
}

// Name implements Observer.
func (f ObserverFunc) Name() string { return f.ObserverName }

// Refresh implements Observer.
func (f ObserverFunc) Refresh(ctx context.Context, changes []domain.Change) error {
	return f.Fn(ctx, changes)
}

// Bus fans coalesced changes out to observers.
type Bus struct {
	queue    *changeQueue
	debounce time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu        sync.RWMutex
	observers []Observer
}

// Option configures a Bus.
type Option func(*Bus)

// WithDebounce sets the burst window. Zero refreshes on every signal.
func WithDebounce(d time.Duration) Option {
	return func(b *Bus) { b.debounce = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// New creates a Bus with no observers.
func New(opts ...Option) *Bus {
	b := &Bus{
		queue:    newChangeQueue(),
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "bus")
	return b
}

// Subscribe adds an observer. Safe to call while Run is active.
func (b *Bus) Subscribe(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Notify implements domain.Notifier. Changes after Close are dropped.
func (b *Bus) Notify(changes ...domain.Change) {
	for _, c := range changes {
		if !b.queue.Enqueue(c) {
			b.logger.Debug("change dropped after close", "entity", c.Entity, "id", c.ID)
		}
	}
}

// Pending returns how many distinct entities await a refresh.
func (b *Bus) Pending() int {
	return b.queue.Len()
}

// Coalesced returns how many changes were merged into an already pending
// change for the same entity.
func (b *Bus) Coalesced() int64 {
	return b.queue.coalesced.Load()
}

// Run delivers changes until ctx is done or the bus is closed. Pending
// changes are flushed before returning after Close.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-b.queue.Wait():
			if !open {
				b.Flush(context.WithoutCancel(ctx))
				return nil
			}
		}

		if b.debounce > 0 {
			timer := time.NewTimer(b.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		b.Flush(ctx)
	}
}

// Flush drains pending changes and refreshes every observer once, in
// subscription order. Observer errors are logged and do not stop the others.
// It returns the number of changes delivered.
func (b *Bus) Flush(ctx context.Context) int {
	changes := b.queue.Drain()
	if len(changes) == 0 {
		return 0
	}

	b.mu.RLock()
	observers := append([]Observer(nil), b.observers...)
	b.mu.RUnlock()

	for _, o := range observers {
		if err := o.Refresh(ctx, changes); err != nil {
			b.logger.Warn("observer refresh failed", "observer", o.Name(), "changes", len(changes), "error", err)
			continue
		}
		b.metrics.BusRefresh(o.Name())
	}
	return len(changes)
}

// Close stops accepting changes. A running Run flushes what is pending and
// returns.
func (b *Bus) Close() {
	b.queue.Close()
}
