package serial_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghettovoice/sipcore/internal/serial"
)

func TestExecutor_Serializes(t *testing.T) {
	t.Parallel()

	var (
		x       serial.Executor
		wg      sync.WaitGroup
		running int
		maxSeen int
	)
	for range 50 {
		wg.Go(func() {
			_ = x.Do(t.Context(), func(context.Context) {
				running++
				maxSeen = max(maxSeen, running)
				running--
			})
		})
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrently running = %d, want 1", maxSeen)
	}
}

func TestExecutor_Reentrant(t *testing.T) {
	t.Parallel()

	var x serial.Executor
	var calls []string
	err := x.Do(t.Context(), func(ctx context.Context) {
		if !x.Within(ctx) {
			t.Error("x.Within(ctx) = false, want true")
		}
		calls = append(calls, "outer")
		if err := x.Do(ctx, func(context.Context) { calls = append(calls, "inner") }); err != nil {
			t.Errorf("nested x.Do() error = %v, want nil", err)
		}
	})
	if err != nil {
		t.Fatalf("x.Do() error = %v, want nil", err)
	}
	if len(calls) != 2 || calls[0] != "outer" || calls[1] != "inner" {
		t.Fatalf("calls = %v, want [outer inner]", calls)
	}
	if x.Within(t.Context()) {
		t.Fatal("x.Within(t.Context()) = true, want false")
	}

	var other serial.Executor
	_ = x.Do(t.Context(), func(ctx context.Context) {
		if other.Within(ctx) {
			t.Error("other.Within(ctx) = true, want false")
		}
	})
}

func TestExecutor_Close(t *testing.T) {
	t.Parallel()

	var x serial.Executor
	closed := false
	if err := x.Close(t.Context(), func(context.Context) { closed = true }); err != nil {
		t.Fatalf("x.Close() error = %v, want nil", err)
	}
	if !closed {
		t.Fatal("close callback was not called")
	}

	if err := x.Do(t.Context(), func(context.Context) { t.Error("fn called after close") }); !errors.Is(err, serial.ErrClosed) {
		t.Fatalf("x.Do() error = %v, want %v", err, serial.ErrClosed)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestExecutor_StallWarning(t *testing.T) {
	t.Parallel()

	var out syncBuffer
	x := &serial.Executor{
		Logger:    slog.New(slog.NewTextHandler(&out, nil)),
		StallWarn: 10 * time.Millisecond,
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = x.Do(context.Background(), func(context.Context) {
			close(entered)
			<-release
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() { done <- x.Do(context.Background(), func(context.Context) {}) }()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(out.String(), "without the executor context") {
		if time.Now().After(deadline) {
			t.Fatalf("log output = %q, want a stall warning", out.String())
		}
		time.Sleep(time.Millisecond)
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stalled x.Do() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("stalled x.Do() did not run after the executor was released")
	}
}
