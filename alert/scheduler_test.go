package alert

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/twitchalert/telemetry"
)

func TestSchedulerSurvivesErrorsAndPanics(t *testing.T) {
	var failing, panicking, healthy atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(time.Second,
		Task{Name: "failing", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			failing.Add(1)
			return errors.New("transient")
		}},
		Task{Name: "panicking", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			panicking.Add(1)
			panic("boom")
		}},
		Task{Name: "healthy", Interval: 10 * time.Millisecond, Run: func(context.Context) error {
			healthy.Add(1)
			return nil
		}},
	)
	s.Start(ctx)

	deadline := time.After(2 * time.Second)
	for failing.Load() < 3 || panicking.Load() < 3 || healthy.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("ticks stalled: failing=%d panicking=%d healthy=%d", failing.Load(), panicking.Load(), healthy.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	s.Wait()
}

func TestSchedulerLetsInflightTickFinish(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	var sawCancel atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(time.Second, Task{Name: "slow", Interval: time.Hour, Run: func(tickCtx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if tickCtx.Err() != nil {
			sawCancel.Store(true)
		}
		finished.Store(true)
		return nil
	}})
	s.Start(ctx)
	<-started
	cancel()
	s.Wait()
	if !finished.Load() {
		t.Fatal("Wait returned before the in-flight tick finished")
	}
	if sawCancel.Load() {
		t.Fatal("tick context was cancelled by shutdown")
	}
}

func TestSchedulerTickTimeoutAndCorrelation(t *testing.T) {
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewScheduler(20*time.Millisecond, Task{Name: "bounded", Interval: time.Hour, Run: func(tickCtx context.Context) error {
		defer close(done)
		if telemetry.GetCorrelation(tickCtx) == "" {
			t.Error("tick context has no correlation id")
		}
		select {
		case <-tickCtx.Done():
			return tickCtx.Err()
		case <-time.After(time.Second):
			t.Error("tick timeout not applied")
			return nil
		}
	}})
	s.Start(ctx)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick never ran")
	}
	cancel()
	s.Wait()
}

func TestSchedulerStopsDuringJitter(t *testing.T) {
	var runs atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(0, Task{Name: "late", Interval: time.Hour, Jitter: time.Hour, Run: func(context.Context) error {
		runs.Add(1)
		return nil
	}})
	s.Start(ctx)
	cancel()
	s.Wait()
	if runs.Load() != 0 {
		t.Fatalf("task ran %d times, want 0", runs.Load())
	}
}

func TestReconcileTaskRunsEngine(t *testing.T) {
	f := newFixture(t, "C")
	f.addStreamer(t, "G", "C", "alice", "")
	f.streams.goLive("alice", "t", "")
	task := ReconcileTask(f.engine, "streamer", time.Minute)
	if task.Name != "reconcile_streamer" {
		t.Errorf("Name = %q", task.Name)
	}
	if err := task.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.streamer(t, "C", "alice").MessageID == "" {
		t.Fatal("task did not reconcile")
	}
}
