package embed

import (
	"context"
	"sync"
)

// Lazy holds a value that is built on first use and shared afterwards.
// Initialization runs exactly once. Concurrent callers wait on that single
// run, each bounded by its own context; a caller that gives up does not
// cancel the initialization for the others. A failed initialization is
// remembered and returned to every later caller.
type Lazy[T any] struct {
	init func(context.Context) (T, error)

	once sync.Once
	done chan struct{}
	val  T
	err  error
}

// NewLazy returns a Lazy that builds its value with init.
func NewLazy[T any](init func(context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{init: init, done: make(chan struct{})}
}

// Get returns the value, starting initialization if nobody has yet.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.once.Do(func() {
		initCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(l.done)
			l.val, l.err = l.init(initCtx)
		}()
	})

	select {
	case <-l.done:
		return l.val, l.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the value if initialization already finished successfully.
// It never starts or waits for initialization.
func (l *Lazy[T]) Peek() (T, bool) {
	select {
	case <-l.done:
		return l.val, l.err == nil
	default:
		var zero T
		return zero, false
	}
}

// Close waits for a started initialization to finish and, if it produced a
// value, releases it with release. Close on a Lazy that was never used does
// nothing.
func (l *Lazy[T]) Close(release func(T) error) error {
	started := true
	l.once.Do(func() {
		started = false
		l.err = ErrClosed
		close(l.done)
	})
	if !started {
		return nil
	}
	<-l.done
	if l.err != nil || release == nil {
		return nil
	}
	return release(l.val)
}
