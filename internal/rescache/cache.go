// Package rescache memoizes expensive asynchronous per-endpoint
// initializations, such as authenticated gateway clients or downloaded
// remote API modules, so concurrent callers never duplicate remote work.
package rescache

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/halodata/querygate/internal/endpoint"
	"github.com/halodata/querygate/internal/keyedstore"
)

// ErrDisposed is returned by Get after the cache has been disposed.
var ErrDisposed = errors.New("resource cache disposed")

// Disposable is the optional teardown capability detected on resolved
// values during Invalidate and Dispose.
type Disposable interface {
	Dispose(ctx context.Context) error
}

// Loader produces the resource for one endpoint.
type Loader[T any] func(ctx context.Context, ep endpoint.Endpoint) (T, error)

// entry is one pending-or-settled load. It is created before the loader
// settles and never mutated after done is closed.
type entry[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (e *entry[T]) settled() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Cache memoizes a Loader per endpoint with at most one concurrent load per
// key. A load that fails stays cached as failed until the entry is
// explicitly invalidated; callers that want retry-on-error must invalidate
// first.
type Cache[T any] struct {
	loader Loader[T]
	logger *slog.Logger

	mu     sync.Mutex
	store  *keyedstore.Store[endpoint.Endpoint, *entry[T]]
	closed bool
}

// New creates a cache over the given loader.
func New[T any](loader Loader[T], logger *slog.Logger) *Cache[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{
		loader: loader,
		logger: logger,
		store:  keyedstore.NewEndpointStore[*entry[T]](),
	}
}

// Get returns the resource for ep, starting the loader if no entry exists.
// The in-flight entry is stored before the loader settles, so every caller
// racing on the same endpoint shares one underlying load and observes the
// same outcome. ctx only bounds this caller's wait; it does not cancel the
// shared load.
func (c *Cache[T]) Get(ctx context.Context, ep endpoint.Endpoint) (T, error) {
	var zero T

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrDisposed
	}

	e, ok := c.store.Get(ep)
	if !ok {
		e = &entry[T]{done: make(chan struct{})}
		c.store.Set(ep, e)

		loadCtx := context.WithoutCancel(ctx)
		go func() {
			e.value, e.err = c.loader(loadCtx, ep)
			close(e.done)
		}()
	}
	c.mu.Unlock()

	select {
	case <-e.done:
		return e.value, e.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Has reports whether an entry (pending or settled) exists for ep. It never
// triggers a load.
func (c *Cache[T]) Has(ep endpoint.Endpoint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Has(ep)
}

// Invalidate removes the entry for ep and notifies invalidation listeners.
// A load already in flight is not cancelled; callers holding its result keep
// it, and the next Get starts fresh. If the removed entry had settled to a
// disposable value, that value is disposed in the background.
func (c *Cache[T]) Invalidate(ep endpoint.Endpoint) {
	c.mu.Lock()
	e, ok := c.store.Get(ep)
	if ok {
		c.store.Delete(ep)
	}
	c.mu.Unlock()

	if !ok || !e.settled() || e.err != nil {
		return
	}
	if d, isDisposable := any(e.value).(Disposable); isDisposable {
		go func() {
			if err := d.Dispose(context.Background()); err != nil {
				c.logger.Warn("Failed to dispose invalidated cache entry",
					"endpoint", ep.String(),
					"error", err)
			}
		}()
	}
}

// OnInvalidate registers fn to run whenever an entry for any endpoint is
// removed, via Invalidate or Dispose. The returned func removes the
// listener.
func (c *Cache[T]) OnInvalidate(fn func(endpoint.Endpoint)) func() {
	return c.store.Subscribe(func(ev keyedstore.Event[endpoint.Endpoint]) {
		if ev.Op == keyedstore.OpDelete {
			fn(ev.Key)
		}
	})
}

// Dispose clears the store so no new entries can appear, waits for every
// outstanding entry to settle, and disposes every settled disposable value.
// Disposals run concurrently and are all awaited before Dispose returns.
func (c *Cache[T]) Dispose(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	entries := c.store.Values()
	c.store.Clear()
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, e := range entries {
		g.Go(func() error {
			select {
			case <-e.done:
			case <-ctx.Done():
				return ctx.Err()
			}
			if e.err != nil {
				return nil
			}
			if d, isDisposable := any(e.value).(Disposable); isDisposable {
				return d.Dispose(ctx)
			}
			return nil
		})
	}
	return g.Wait()
}
