package jobs

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

var (
	// ErrUnknownJob is returned when a job name is missing or disabled.
	ErrUnknownJob = errors.New("unknown job")
	// ErrUnknownParam is returned when an update names a parameter the job does not expose.
	ErrUnknownParam = errors.New("unknown parameter")
)

// ParamUpdate is an explicit request to change a job's tunable parameters.
type ParamUpdate struct {
	Job    string
	Params map[string]any
}

// Registry owns the job table. Descriptors handed out are copies; parameter
// updates replace the stored descriptor instead of mutating shared state.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	jobs     map[string]models.Job
	disabled map[string]struct{}
}

// NewRegistry builds a registry from table, filtering disabled names and applying
// parameter overrides from configuration.
func NewRegistry(table []models.Job, disabled []string, overrides map[string]map[string]any) (*Registry, error) {
	r := &Registry{
		jobs:     make(map[string]models.Job, len(table)),
		disabled: make(map[string]struct{}, len(disabled)),
	}
	for _, job := range table {
		if job.Name == "" {
			return nil, fmt.Errorf("job with empty name")
		}
		if _, dup := r.jobs[job.Name]; dup {
			return nil, fmt.Errorf("duplicate job %q", job.Name)
		}
		r.order = append(r.order, job.Name)
		r.jobs[job.Name] = job.Clone()
	}
	for _, name := range disabled {
		r.disabled[name] = struct{}{}
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := r.jobs[name]; !ok {
			return nil, fmt.Errorf("params override: %w: %s", ErrUnknownJob, name)
		}
		if _, err := r.apply(ParamUpdate{Job: name, Params: overrides[name]}, false); err != nil {
			return nil, fmt.Errorf("params override: %w", err)
		}
	}
	return r, nil
}

// List returns enabled jobs in registry order, minus any excluded names.
func (r *Registry) List(exclude ...string) []models.Job {
	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Job, 0, len(r.order))
	for _, name := range r.order {
		if _, off := r.disabled[name]; off {
			continue
		}
		if _, off := skip[name]; off {
			continue
		}
		out = append(out, r.jobs[name].Clone())
	}
	return out
}

// Dynamic returns the enabled jobs retrained by this service.
func (r *Registry) Dynamic(exclude ...string) []models.Job {
	var out []models.Job
	for _, job := range r.List(exclude...) {
		if job.Dynamic {
			out = append(out, job)
		}
	}
	return out
}

// Lookup returns the named job or ErrUnknownJob when it is missing or disabled.
func (r *Registry) Lookup(name string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if _, off := r.disabled[name]; off {
		return models.Job{}, fmt.Errorf("%w: %s is disabled", ErrUnknownJob, name)
	}
	return job.Clone(), nil
}

// Params returns a copy of the named job's parameters.
func (r *Registry) Params(name string) (map[string]any, error) {
	job, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return job.Params, nil
}

// AllParams returns the parameters of every enabled job keyed by job name.
func (r *Registry) AllParams() map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, job := range r.List() {
		out[job.Name] = job.Params
	}
	return out
}

// Apply handles a parameter update and returns the job's resulting parameters.
func (r *Registry) Apply(update ParamUpdate) (map[string]any, error) {
	return r.apply(update, true)
}

func (r *Registry) apply(update ParamUpdate, enabledOnly bool) (map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[update.Job]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, update.Job)
	}
	if _, off := r.disabled[update.Job]; off && enabledOnly {
		return nil, fmt.Errorf("%w: %s is disabled", ErrUnknownJob, update.Job)
	}

	next := job.Clone()
	for key, value := range update.Params {
		current, ok := next.Params[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownParam, update.Job, key)
		}
		coerced, err := coerceParam(current, value)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", update.Job, key, err)
		}
		next.Params[key] = coerced
	}
	r.jobs[update.Job] = next
	return next.Clone().Params, nil
}

// coerceParam converts value to the type of the parameter's current value.
func coerceParam(current, value any) (any, error) {
	switch current.(type) {
	case int:
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", value)
		}
		return int(f), nil
	case float64:
		return toFloat(value)
	case bool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
		return nil, fmt.Errorf("expected bool, got %T", value)
	case string:
		return fmt.Sprint(value), nil
	}
	return value, nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("expected number, got %q", v)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", value)
}
