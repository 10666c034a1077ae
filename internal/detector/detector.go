// Package detector holds the statistical models jobs are scored with and the
// registry that binds model identifiers to implementations.
package detector

import (
	"errors"
	"fmt"
	"sort"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

var (
	// ErrUnknownModel is returned when no model is registered under an identifier.
	ErrUnknownModel = errors.New("unknown model")
	// ErrNotTrainable is returned by models whose state is produced offline.
	ErrNotTrainable = errors.New("model is not trainable")
	// ErrNoState is returned when a trainable model is scored without state.
	ErrNoState = errors.New("model state missing")
)

// Model fits opaque state from feature rows and scores rows against it.
// Lower scores are more anomalous.
type Model interface {
	ID() string
	Fit(samples [][]float64, params Params) ([]byte, error)
	Score(state []byte, samples [][]float64, params Params) ([]float64, error)
}

// Params are a job's tunable parameters.
type Params map[string]any

// Float reads a numeric parameter, falling back to def.
func (p Params) Float(key string, def float64) float64 {
	if f, ok := models.Record(p).Float(key); ok {
		return f
	}
	return def
}

// Int reads an integer parameter, falling back to def.
func (p Params) Int(key string, def int) int {
	if f, ok := models.Record(p).Float(key); ok {
		return int(f)
	}
	return def
}

// Threshold returns the score_threshold parameter.
func (p Params) Threshold() (float64, error) {
	f, ok := models.Record(p).Float("score_threshold")
	if !ok {
		return 0, fmt.Errorf("score_threshold not set")
	}
	return f, nil
}

// Registry maps model identifiers to implementations. It is built once at startup.
type Registry struct {
	models map[string]Model
}

// NewRegistry registers the supplied models, rejecting duplicate identifiers.
func NewRegistry(list ...Model) (*Registry, error) {
	r := &Registry{models: make(map[string]Model, len(list))}
	for _, m := range list {
		if _, dup := r.models[m.ID()]; dup {
			return nil, fmt.Errorf("duplicate model %q", m.ID())
		}
		r.models[m.ID()] = m
	}
	return r, nil
}

// DefaultRegistry returns the built-in models.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(IsolationForest{}, ZScore{}, StaticThreshold{})
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the model registered under id.
func (r *Registry) Resolve(id string) (Model, error) {
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m, nil
}

// Verify checks that every job's model is registered.
func (r *Registry) Verify(jobs []models.Job) error {
	var errs []error
	for _, job := range jobs {
		if _, err := r.Resolve(job.ModelID); err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

// IDs lists registered model identifiers.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Features extracts the value fields of each record as a feature row. Records
// missing a numeric value are skipped; the returned index maps rows back to records.
func Features(records []models.Record, fields []string) ([][]float64, []int) {
	rows := make([][]float64, 0, len(records))
	index := make([]int, 0, len(records))
	for i, rec := range records {
		row := make([]float64, 0, len(fields))
		for _, field := range fields {
			v, ok := rec.Float(field)
			if !ok {
				row = nil
				break
			}
			row = append(row, v)
		}
		if row == nil {
			continue
		}
		rows = append(rows, row)
		index = append(index, i)
	}
	return rows, index
}

func checkWidth(samples [][]float64, width int) error {
	for i, row := range samples {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
	}
	return nil
}
