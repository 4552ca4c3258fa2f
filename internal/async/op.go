package async

import (
	"fmt"
	"sync"
	"time"
)

// Op is a single pending operation that completes once with a value or an error.
type Op[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

// New returns an incomplete operation.
func New[T any]() *Op[T] {
	return &Op[T]{done: make(chan struct{})}
}

// Resolved returns an operation that already completed with value.
func Resolved[T any](value T) *Op[T] {
	op := New[T]()
	op.Resolve(value)
	return op
}

// Failed returns an operation that already completed with err.
func Failed[T any](err error) *Op[T] {
	op := New[T]()
	op.Fail(err)
	return op
}

// Go runs fn on a new goroutine and completes the returned operation with its
// result. A panic in fn fails the operation instead of crashing the process.
func Go[T any](fn func() (T, error)) *Op[T] {
	op := New[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				op.Fail(fmt.Errorf("operation panicked: %v", r))
			}
		}()
		value, err := fn()
		if err != nil {
			op.Fail(err)
			return
		}
		op.Resolve(value)
	}()
	return op
}

// Resolve completes the operation with value. It reports false when the
// operation had already completed.
func (o *Op[T]) Resolve(value T) bool {
	resolved := false
	o.once.Do(func() {
		o.value = value
		close(o.done)
		resolved = true
	})
	return resolved
}

// Fail completes the operation with err. It reports false when the operation
// had already completed.
func (o *Op[T]) Fail(err error) bool {
	if err == nil {
		err = fmt.Errorf("operation failed without an error")
	}
	failed := false
	o.once.Do(func() {
		o.err = err
		close(o.done)
		failed = true
	})
	return failed
}

// Done is closed once the operation completes.
func (o *Op[T]) Done() <-chan struct{} {
	return o.done
}

// Completed reports whether the operation has completed, without blocking.
func (o *Op[T]) Completed() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Result blocks until the operation completes and returns its outcome.
func (o *Op[T]) Result() (T, error) {
	<-o.done
	return o.value, o.err
}

// After returns an operation that resolves once d has elapsed, and a stop
// function that prevents it from ever resolving if it has not fired yet.
func After(d time.Duration) (*Op[struct{}], func()) {
	op := New[struct{}]()
	timer := time.AfterFunc(d, func() {
		op.Resolve(struct{}{})
	})
	return op, func() {
		timer.Stop()
	}
}
