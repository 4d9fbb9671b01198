package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/twitchalert/store"
	"github.com/onnwee/twitchalert/telemetry"
)

// Task is one periodic job.
type Task struct {
	Name     string
	Interval time.Duration
	// Jitter bounds a random delay before the first run.
	Jitter time.Duration
	Run    func(ctx context.Context) error
}

// Scheduler runs each Task on its own goroutine until its context is done. A
// tick's error or panic is logged and the next tick runs as usual.
type Scheduler struct {
	tasks   []Task
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewScheduler returns a Scheduler whose ticks are each bounded by timeout
// (zero means unbounded).
func NewScheduler(timeout time.Duration, tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks, timeout: timeout}
}

// ReconcileTask wraps Engine.Reconcile as a Task.
func ReconcileTask(e *Engine, t store.AlertType, interval time.Duration) Task {
	return Task{
		Name:     "reconcile_" + string(t),
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := e.Reconcile(ctx, t)
			return err
		},
	}
}

// RefreshTask wraps Refresher.Refresh as a Task.
func RefreshTask(r *Refresher, interval time.Duration) Task {
	return Task{
		Name:     "team_roster_refresh",
		Interval: interval,
		Jitter:   interval / 4,
		Run: func(ctx context.Context) error {
			_, err := r.Refresh(ctx)
			return err
		},
	}
}

// Start launches every task. Each runs once right away (after its jitter) and
// then every Interval.
func (s *Scheduler) Start(ctx context.Context) {
	for _, task := range s.tasks {
		if task.Interval <= 0 {
			task.Interval = time.Minute
		}
		s.wg.Add(1)
		go func(task Task) {
			defer s.wg.Done()
			s.loop(ctx, task)
		}(task)
	}
}

// Wait blocks until every task loop has returned. An in-flight tick is allowed
// to finish first.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, task Task) {
	log := slog.Default().With(slog.String("component", "scheduler"), slog.String("task", task.Name))
	log.Info("task started", slog.Duration("interval", task.Interval))
	defer log.Info("task stopped")

	if task.Jitter > 0 {
		//nolint:gosec // G404: math/rand is sufficient for scheduling jitter
		delay := time.Duration(rand.Int63n(int64(task.Jitter)))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		s.runTick(ctx, task, log)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runTick runs one tick detached from ctx cancellation so shutdown never
// aborts a tick mid-row; the tick timeout still bounds it.
func (s *Scheduler) runTick(ctx context.Context, task Task, log *slog.Logger) {
	tickCtx := telemetry.WithCorrelation(context.WithoutCancel(ctx), uuid.NewString())
	if s.timeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(tickCtx, s.timeout)
		defer cancel()
	}
	log = log.With(slog.String("corr", telemetry.GetCorrelation(tickCtx)))

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				log.Error("tick panicked", slog.String("stack", string(debug.Stack())))
			}
		}()
		return task.Run(tickCtx)
	}()
	if err != nil {
		log.Error("tick failed", slog.Any("err", err))
	}
}
