package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := New(size, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestDoReturnsTaskError(t *testing.T) {
	p := newPool(t, 2)
	want := errors.New("boom")
	if err := p.Do(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("err=%v, want %v", err, want)
	}
}

func TestCallReturnsValue(t *testing.T) {
	p := newPool(t, 2)
	got, err := Call(context.Background(), p, func(context.Context) (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("Call=%q, %v", got, err)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := newPool(t, size)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > size {
		t.Fatalf("peak concurrency=%d, want <= %d", got, size)
	}
}

func TestDoHonoursContext(t *testing.T) {
	p := newPool(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)
	err := p.Do(ctx, func(context.Context) error {
		<-release
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want deadline exceeded", err)
	}
}

func TestDoRecoversPanic(t *testing.T) {
	p := newPool(t, 1)
	err := p.Do(context.Background(), func(context.Context) error { panic("bad") })
	if err == nil {
		t.Fatal("expected error from panicking task")
	}
	if err := p.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("pool unusable after panic: %v", err)
	}
}
