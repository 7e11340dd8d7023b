package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunContinuesAfterTickError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls, failures atomic.Int32
	s := New(Options{
		Interval: 5 * time.Millisecond,
		OnError:  func(error) { failures.Add(1) },
	}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(context.Context, time.Time) error {
			n := calls.Add(1)
			if n == 1 {
				return errors.New("dial tcp: connection refused")
			}
			if n == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run 应返回 context.Canceled, 实际 %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	if calls.Load() < 3 {
		t.Fatalf("失败后应继续执行, 仅调用 %d 次", calls.Load())
	}
	if failures.Load() != 1 {
		t.Fatalf("OnError 应调用 1 次, 实际 %d", failures.Load())
	}
}

func TestRunHonoursStartupDelayCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.Run(ctx, func(context.Context, time.Time) error {
		t.Fatal("tick 不应在启动延迟内执行")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("零间隔应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
