package pool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Future is the caller-side handle of a pushed task. It settles exactly
// once, with the task's value or with its error.
type Future[T any] struct {
	id    uint64
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newFuture[T any](id uint64) *Future[T] {
	return &Future[T]{id: id, done: make(chan struct{})}
}

// complete settles the future. Later calls are ignored.
func (f *Future[T]) complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// ID returns the push sequence number of the task, starting at 1.
func (f *Future[T]) ID() uint64 {
	return f.id
}

// Done returns a channel that is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has a result.
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the task finished and returns its outcome.
// It blocks forever for a task abandoned by Stop.
//
// Example:
//
//	f := pool.Push(p, task)
//	value, err := f.Get()
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// GetWithContext is like Get but gives up when ctx is done, returning
// ctx.Err() and the zero value.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	value, err := f.GetWithContext(ctx)
func (f *Future[T]) GetWithContext(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet returns the outcome without blocking. ready is false while the
// task is still queued or running.
func (f *Future[T]) TryGet() (value T, err error, ready bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		return value, nil, false
	}
}

// All waits for every future and returns their values in argument order.
// It returns the first error reported by a task, or ctx.Err() if ctx is
// done first. Futures abandoned by Stop make All block until ctx is done.
func All[T any](ctx context.Context, futures ...*Future[T]) ([]T, error) {
	values := make([]T, len(futures))
	g, gctx := errgroup.WithContext(ctx)

	for i, f := range futures {
		g.Go(func() error {
			v, err := f.GetWithContext(gctx)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return values, err
	}
	return values, nil
}
