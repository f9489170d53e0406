package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSchedulerRunsUntilCancelled(t *testing.T) {
	sched := New(Options{Name: "test", Interval: 10 * time.Millisecond, RunAtStart: true}, zerolog.Nop())

	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx, func(ctx context.Context, at time.Time) error {
			if ticks.Add(1) == 2 {
				return errors.New("tick errors do not stop the loop")
			}
			return nil
		})
	}()

	deadline := time.After(2 * time.Second)
	for ticks.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("只收到 %d 次 tick", ticks.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled, 实际 %v", err)
	}
}

func TestSchedulerStartupDelayHonoursCancel(t *testing.T) {
	sched := New(Options{Interval: time.Hour, StartupDelay: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sched.Run(ctx, func(context.Context, time.Time) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("启动延迟期间取消应返回 context.Canceled, 实际 %v", err)
	}
}

func TestNewPanicsOnNonPositiveInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("interval 为 0 时应 panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
