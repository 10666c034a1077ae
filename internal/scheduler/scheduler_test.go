package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/diagnostics"
	"github.com/miradorstack/mirador-hotspots/internal/engine"
)

type recorder struct {
	mu      sync.Mutex
	events  []string
	trains  []int
	detects []int
	panicOn string
	detectC chan struct{}
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) TrainCycle(_ context.Context, _ engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error) {
	if r.panicOn == "train" {
		panic("train exploded")
	}
	r.mu.Lock()
	r.trains = append(r.trains, opts.Cycle)
	r.mu.Unlock()
	r.add("train")
	return engine.CycleResult{}, nil
}

func (r *recorder) DetectCycle(_ context.Context, _ engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error) {
	r.mu.Lock()
	r.detects = append(r.detects, opts.Cycle)
	r.mu.Unlock()
	r.add("detect")
	if r.detectC != nil {
		select {
		case r.detectC <- struct{}{}:
		default:
		}
	}
	return engine.CycleResult{}, nil
}

func (r *recorder) Run(context.Context, string) (diagnostics.Report, error) {
	r.add("self_diagnostics")
	return diagnostics.Report{}, errors.New("no telemetry")
}

func newTestScheduler(rec *recorder, minute int64, opts Options) *Scheduler {
	s := New(nil, rec, nil, rec, opts)
	s.now = func() time.Time { return time.Unix(minute*60, 0) }
	s.newTicker = func(time.Duration) (<-chan time.Time, func()) { return make(chan time.Time), func() {} }
	return s
}

func TestTickStartsDueCyclesWithCountersFromOne(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(rec, 1440*100, Options{TrainIntervalMinutes: 1440, SearchIntervalMinutes: 30})
	s.Tick(context.Background())
	s.Tick(context.Background())
	s.Wait()

	if len(rec.trains) != 2 || len(rec.detects) != 2 {
		t.Fatalf("expected two of each, got trains=%v detects=%v", rec.trains, rec.detects)
	}
	seen := map[int]bool{}
	for _, n := range rec.detects {
		seen[n] = true
	}
	if !seen[1] || !seen[2] {
		t.Fatalf("expected detect counters 1 and 2, got %v", rec.detects)
	}
}

func TestTickSkipsCyclesNotDue(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(rec, 1440*100+7, Options{TrainIntervalMinutes: 1440, SearchIntervalMinutes: 30})
	s.Tick(context.Background())
	s.Wait()
	if len(rec.events) != 0 {
		t.Fatalf("expected nothing to run, got %v", rec.events)
	}
	s.now = func() time.Time { return time.Unix((1440*100+30)*60, 0) }
	s.Tick(context.Background())
	s.Wait()
	if len(rec.trains) != 0 || len(rec.detects) != 1 {
		t.Fatalf("expected detection only, got trains=%v detects=%v", rec.trains, rec.detects)
	}
}

func TestCyclePanicIsIsolated(t *testing.T) {
	rec := &recorder{panicOn: "train"}
	s := newTestScheduler(rec, 0, Options{TrainIntervalMinutes: 1, SearchIntervalMinutes: 1})
	s.Tick(context.Background())
	s.Wait()
	if len(rec.detects) != 1 {
		t.Fatalf("detection must run despite a panicking train cycle")
	}
}

func TestRunStartsWithSelfDiagnostics(t *testing.T) {
	rec := &recorder{detectC: make(chan struct{}, 1)}
	s := newTestScheduler(rec, 0, Options{TrainIntervalMinutes: 1440, SearchIntervalMinutes: 30, StartupSelfDiagnostics: true})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-rec.detectC:
	case <-time.After(5 * time.Second):
		t.Fatalf("first tick did not run")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) == 0 || rec.events[0] != "self_diagnostics" {
		t.Fatalf("expected self-diagnostics first, got %v", rec.events)
	}
}

func TestSubmitRunsQueuedTasks(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(rec, 7, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	got := make(chan string, 1)
	id, err := s.Submit("self_diagnostics", func(_ context.Context, taskID string) error {
		got <- taskID
		return nil
	})
	if err != nil || id == "" {
		t.Fatalf("submit: %q %v", id, err)
	}
	select {
	case taskID := <-got:
		if taskID != id {
			t.Fatalf("task saw id %q, expected %q", taskID, id)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("queued task did not run")
	}
}

func TestSubmitRejectsWhenFull(t *testing.T) {
	s := newTestScheduler(&recorder{}, 7, Options{QueueSize: 1})
	noop := func(context.Context, string) error { return nil }
	if _, err := s.Submit("train", noop); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := s.Submit("train", noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
