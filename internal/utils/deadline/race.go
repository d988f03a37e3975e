// Package deadline races an operation against a timer.
//
// The wallet transports offer no way to abort an in-flight call, so the
// operation that loses the race keeps running. Its eventual result is
// dropped. Callers that need to undo a late success use OnLate.
package deadline

import (
	"context"
	"sync"
	"time"
)

type result[T any] struct {
	val T
	err error
}

type options[T any] struct {
	onLate func(T, error)
}

// Option configures Race.
type Option[T any] func(*options[T])

// OnLate registers fn to receive the result of an operation that finished
// after the caller stopped waiting. fn runs on the operation's goroutine.
func OnLate[T any](fn func(T, error)) Option[T] {
	return func(o *options[T]) { o.onLate = fn }
}

const (
	pending = iota
	finished
	abandoned
)

// Race runs op and returns its result, or timeoutErr once d elapses.
// A cancelled ctx also ends the wait with ctx.Err(). In both cases op is
// not cancelled; it receives ctx unchanged.
// A non-positive d disables the timer.
func Race[T any](ctx context.Context, d time.Duration, op func(context.Context) (T, error), timeoutErr error, opts ...Option[T]) (T, error) {
	var o options[T]
	for _, opt := range opts {
		opt(&o)
	}

	var (
		mu    sync.Mutex
		state = pending
		done  = make(chan result[T], 1)
	)
	go func() {
		v, err := op(ctx)
		mu.Lock()
		if state == abandoned {
			mu.Unlock()
			if o.onLate != nil {
				o.onLate(v, err)
			}
			return
		}
		state = finished
		mu.Unlock()
		done <- result[T]{val: v, err: err}
	}()

	var timeout <-chan time.Time
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	// give up unless op already finished; a finished op wins ties
	abandon := func(err error) (T, error) {
		mu.Lock()
		if state == finished {
			mu.Unlock()
			r := <-done
			return r.val, r.err
		}
		state = abandoned
		mu.Unlock()
		var zero T
		return zero, err
	}

	select {
	case r := <-done:
		return r.val, r.err
	case <-timeout:
		return abandon(timeoutErr)
	case <-ctx.Done():
		return abandon(ctx.Err())
	}
}
