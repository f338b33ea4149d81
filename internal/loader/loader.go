package loader

import (
	"context"
	"sync"
)

// BatchFunc fetches every key in one round trip. Keys absent from the
// returned map resolve as not found.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

type entry[V any] struct {
	done  chan struct{}
	val   V
	found bool
	err   error
}

// Loader coalesces lookups made while handling one request into a single
// batch call and memoizes the results. A Loader must not outlive its request.
type Loader[K comparable, V any] struct {
	batch BatchFunc[K, V]

	mu      sync.Mutex
	pending []K
	entries map[K]*entry[V]
	batches int
}

// New creates a loader around batch
func New[K comparable, V any](batch BatchFunc[K, V]) *Loader[K, V] {
	return &Loader[K, V]{
		batch:   batch,
		entries: make(map[K]*entry[V]),
	}
}

// Thunk is a pending load result
type Thunk[K comparable, V any] struct {
	loader *Loader[K, V]
	entry  *entry[V]
}

// Load queues key for the next batch and returns a handle to its result.
// Keys already loaded or queued are not fetched again.
func (l *Loader[K, V]) Load(key K) Thunk[K, V] {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry[V]{done: make(chan struct{})}
		l.entries[key] = e
		l.pending = append(l.pending, key)
	}
	return Thunk[K, V]{loader: l, entry: e}
}

// Dispatch fetches all queued keys with one batch call
func (l *Loader[K, V]) Dispatch(ctx context.Context) error {
	l.mu.Lock()
	keys := l.pending
	l.pending = nil
	if len(keys) > 0 {
		l.batches++
	}
	l.mu.Unlock()

	if len(keys) == 0 {
		return nil
	}

	results, err := l.batch(ctx, keys)

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		e := l.entries[k]
		if err != nil {
			e.err = err
			// failed keys may be retried by a later Load
			delete(l.entries, k)
		} else {
			e.val, e.found = results[k]
		}
		close(e.done)
	}
	return err
}

// Clear forgets a loaded key so the next Load fetches it again. Keys still
// waiting for a batch are left alone.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.entries[key]; ok {
		select {
		case <-e.done:
			delete(l.entries, key)
		default:
		}
	}
}

// Batches returns how many batch calls the loader has made
func (l *Loader[K, V]) Batches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.batches
}

// Get waits for the result, dispatching the queue first if nobody has yet
func (t Thunk[K, V]) Get(ctx context.Context) (V, bool, error) {
	select {
	case <-t.entry.done:
	default:
		if err := t.loader.Dispatch(ctx); err != nil {
			var zero V
			return zero, false, err
		}
		select {
		case <-t.entry.done:
		case <-ctx.Done():
			var zero V
			return zero, false, ctx.Err()
		}
	}
	return t.entry.val, t.entry.found, t.entry.err
}
