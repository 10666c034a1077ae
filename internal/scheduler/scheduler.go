// Package scheduler drives the startup self-diagnostics, the minute-aligned
// train/detect loop, and the queue of operator-triggered tasks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-hotspots/internal/diagnostics"
	"github.com/miradorstack/mirador-hotspots/internal/engine"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("task queue full")

// Cycles runs train and detect cycles.
type Cycles interface {
	TrainCycle(ctx context.Context, src engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error)
	DetectCycle(ctx context.Context, src engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error)
}

// SelfDiagnostics runs a self-diagnostics pass under id.
type SelfDiagnostics interface {
	Run(ctx context.Context, id string) (diagnostics.Report, error)
}

// Task is queued work. id is the task id returned by Submit.
type Task func(ctx context.Context, id string) error

// Options configures the scheduler cadence.
type Options struct {
	TrainIntervalMinutes   int
	SearchIntervalMinutes  int
	Tick                   time.Duration
	StartupSelfDiagnostics bool
	QueueSize              int
}

type queued struct {
	id   string
	kind string
	fn   Task
}

// Scheduler owns the steady-state loop. Cycles share the engine's artifact lock.
type Scheduler struct {
	logger *slog.Logger
	cycles Cycles
	source engine.SampleSource
	diag   SelfDiagnostics
	opts   Options

	queue chan queued
	wg    sync.WaitGroup

	mu      sync.Mutex
	trains  int
	detects int

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())
	newID     func() string
}

// New constructs a scheduler.
func New(logger *slog.Logger, cycles Cycles, source engine.SampleSource, diag SelfDiagnostics, opts Options) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TrainIntervalMinutes <= 0 {
		opts.TrainIntervalMinutes = 1440
	}
	if opts.SearchIntervalMinutes <= 0 {
		opts.SearchIntervalMinutes = 30
	}
	if opts.Tick <= 0 {
		opts.Tick = time.Minute
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Scheduler{
		logger: logger,
		cycles: cycles,
		source: source,
		diag:   diag,
		opts:   opts,
		queue:  make(chan queued, opts.QueueSize),
		now:    time.Now,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
		newID: uuid.NewString,
	}
}

// Submit queues fn and returns its id immediately.
func (s *Scheduler) Submit(kind string, fn Task) (string, error) {
	id := s.newID()
	select {
	case s.queue <- queued{id: id, kind: kind, fn: fn}:
		s.logger.Info("task queued", slog.String("kind", kind), slog.String("task_id", id))
		return id, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrQueueFull, kind)
	}
}

// Run executes the startup self-diagnostics, then ticks until ctx is done.
// It waits for in-flight cycles and tasks before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.wg.Add(1)
	go s.worker(ctx)
	defer s.wg.Wait()

	if s.opts.StartupSelfDiagnostics && s.diag != nil {
		if _, err := s.diag.Run(ctx, ""); err != nil {
			s.logger.Error("startup self-diagnostics failed", slog.Any("error", err))
		}
	}

	tick, stop := s.newTicker(s.opts.Tick)
	defer stop()
	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
		}
	}
}

// Tick runs one scheduling step: cycles whose interval divides the current minute are started.
func (s *Scheduler) Tick(ctx context.Context) {
	minute := utils.CurrentMinute(s.now())
	train := int64(s.opts.TrainIntervalMinutes)
	search := int64(s.opts.SearchIntervalMinutes)
	s.logger.Info("sleep cycle",
		slog.String("detection", fmt.Sprintf("%d/%d", minute%search+1, search)),
		slog.String("training", fmt.Sprintf("%d/%d", minute%train+1, train)),
	)

	if minute%train == 0 {
		n := s.next(&s.trains)
		s.spawn(ctx, "train", func(ctx context.Context) error {
			_, err := s.cycles.TrainCycle(ctx, s.source, engine.CycleOptions{Cycle: n})
			return err
		})
	}
	if minute%search == 0 {
		n := s.next(&s.detects)
		s.spawn(ctx, "detect", func(ctx context.Context) error {
			_, err := s.cycles.DetectCycle(ctx, s.source, engine.CycleOptions{Cycle: n})
			return err
		})
	}
}

// Counts returns how many train and detect cycles have been started.
func (s *Scheduler) Counts() (trains, detects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trains, s.detects
}

// Wait blocks until every spawned cycle and task has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) next(counter *int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	*counter++
	return *counter
}

func (s *Scheduler) spawn(ctx context.Context, kind string, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.guard(kind, func() error { return fn(ctx) }); err != nil {
			s.logger.Error("cycle failed", slog.String("kind", kind), slog.String("op", utils.OpOf(err)), slog.Any("error", err))
		}
	}()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			err := s.guard(t.kind, func() error { return t.fn(ctx, t.id) })
			if err != nil {
				s.logger.Error("task failed",
					slog.String("kind", t.kind),
					slog.String("task_id", t.id),
					slog.String("op", utils.OpOf(err)),
					slog.Any("error", err),
				)
				continue
			}
			s.logger.Info("task finished", slog.String("kind", t.kind), slog.String("task_id", t.id))
		}
	}
}

func (s *Scheduler) guard(kind string, fn func() error) (err error) {
	defer func() {
		if perr := utils.Recovered(kind, recover()); perr != nil {
			err = perr
		}
	}()
	return fn()
}
