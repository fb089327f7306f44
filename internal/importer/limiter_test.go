package importer

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiter_AcquireRelease(t *testing.T) {
	l := NewPreviewLimiter(2, time.Second)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := l.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}

	l.Release()
	l.Release()
	if got := l.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() after release = %d, want 0", got)
	}
}

func TestLimiter_RejectsWhenFull(t *testing.T) {
	l := NewPreviewLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	if err := l.Acquire(ctx); !errors.Is(err, ErrTooManyPreviews) {
		t.Errorf("Acquire(full) error = %v, want ErrTooManyPreviews", err)
	}
}

func TestLimiter_SlotFreedWhileWaiting(t *testing.T) {
	l := NewPreviewLimiter(1, 2*time.Second)
	ctx := context.Background()

	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Release()
	}()

	if err := l.Acquire(ctx); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
	l.Release()
}

func TestLimiter_CancelledContext(t *testing.T) {
	l := NewPreviewLimiter(1, time.Second)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestLimiter_WaitForDrain(t *testing.T) {
	l := NewPreviewLimiter(2, time.Second)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		l.Release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.WaitForDrain(ctx); err != nil {
		t.Errorf("WaitForDrain() error = %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := l.WaitForDrain(ctx2); err != nil {
		t.Errorf("WaitForDrain(idle) error = %v", err)
	}
}
