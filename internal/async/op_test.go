package async_test

import (
	"errors"
	"testing"
	"time"

	"anvil/internal/async"
)

func TestOpResolvesOnce(t *testing.T) {
	op := async.New[int]()
	if op.Completed() {
		t.Fatal("expected new op to be pending")
	}
	if !op.Resolve(7) {
		t.Fatal("expected first Resolve to win")
	}
	if op.Resolve(8) {
		t.Fatal("expected second Resolve to be ignored")
	}
	if op.Fail(errors.New("late")) {
		t.Fatal("expected Fail after Resolve to be ignored")
	}
	value, err := op.Result()
	if err != nil || value != 7 {
		t.Fatalf("Result = (%d, %v), want (7, nil)", value, err)
	}
	if !op.Completed() {
		t.Fatal("expected op to report completion")
	}
}

func TestOpFailCarriesError(t *testing.T) {
	sentinel := errors.New("boom")
	op := async.Failed[string](sentinel)
	select {
	case <-op.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	if _, err := op.Result(); !errors.Is(err, sentinel) {
		t.Fatalf("Result error = %v, want %v", err, sentinel)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	op := async.Go(func() (int, error) {
		panic("worker exploded")
	})
	select {
	case <-op.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for op")
	}
	if _, err := op.Result(); err == nil {
		t.Fatal("expected panic to fail the op")
	}
}

func TestAfterFiresAndStops(t *testing.T) {
	fired, _ := async.After(5 * time.Millisecond)
	select {
	case <-fired.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	stopped, stop := async.After(50 * time.Millisecond)
	stop()
	time.Sleep(100 * time.Millisecond)
	if stopped.Completed() {
		t.Fatal("expected stopped timer to stay pending")
	}
}
