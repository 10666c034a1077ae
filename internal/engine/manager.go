package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/artifact"
	"github.com/miradorstack/mirador-hotspots/internal/detector"
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// ErrModelMismatch is returned when a stored artifact was produced by a different model than the job uses.
var ErrModelMismatch = errors.New("artifact model mismatch")

// Manager trains and scores jobs. Every artifact read and write happens while
// holding lock, which is shared by all cycles of the process.
type Manager struct {
	logger *slog.Logger
	store  artifact.Store
	models *detector.Registry
	lock   sync.Locker
	now    func() time.Time
}

// NewManager wires a lifecycle manager. A nil lock gets a private mutex.
func NewManager(logger *slog.Logger, store artifact.Store, registry *detector.Registry, lock sync.Locker) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if registry == nil {
		registry = detector.DefaultRegistry()
	}
	if lock == nil {
		lock = &sync.Mutex{}
	}
	return &Manager{logger: logger, store: store, models: registry, lock: lock, now: time.Now}
}

// Train fits job on samples and replaces its artifact. Empty samples are a no-op.
// On failure the previous artifact is left untouched.
func (m *Manager) Train(ctx context.Context, job models.Job, samples []models.Record) (err error) {
	if len(samples) == 0 {
		return nil
	}
	defer func() {
		if perr := utils.Recovered("train "+job.Name, recover()); perr != nil {
			err = perr
		}
		if err != nil {
			m.logFailure("training failed", job, samples, err)
		}
	}()

	model, err := m.models.Resolve(job.ModelID)
	if err != nil {
		return err
	}
	rows, _ := detector.Features(samples, job.ValueFields)
	if len(rows) == 0 {
		return fmt.Errorf("no numeric %v values in samples", job.ValueFields)
	}
	state, err := model.Fit(rows, detector.Params(job.Params))
	if err != nil {
		return fmt.Errorf("fit %s: %w", job.ModelID, err)
	}
	data, err := artifact.Encode(artifact.Artifact{
		ModelID:   job.ModelID,
		State:     state,
		Stats:     trainingStats(rows),
		TrainedAt: m.now().UTC(),
		Samples:   len(rows),
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.lock.Lock()
	err = m.store.Save(job.Name, data)
	m.lock.Unlock()
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	m.logger.Info("model trained",
		slog.String("job", job.Name),
		slog.String("model", job.ModelID),
		slog.Int("samples", len(rows)),
	)
	return nil
}

// Detect scores samples for job and returns the anomalies sorted by start_time.
// A dynamic job without a trained artifact yields no anomalies.
func (m *Manager) Detect(ctx context.Context, job models.Job, samples []models.Record) (out []models.Anomaly, err error) {
	if len(samples) == 0 {
		return nil, nil
	}
	defer func() {
		if perr := utils.Recovered("detect "+job.Name, recover()); perr != nil {
			out, err = nil, perr
		}
		if err != nil {
			m.logFailure("detection failed", job, samples, err)
		}
	}()

	model, err := m.models.Resolve(job.ModelID)
	if err != nil {
		return nil, err
	}
	var (
		state []byte
		stats *models.AggregatorStats
	)
	if job.Dynamic {
		m.lock.Lock()
		data, ok, err := m.store.Load(job.Name)
		m.lock.Unlock()
		if err != nil {
			return nil, fmt.Errorf("load artifact: %w", err)
		}
		if !ok {
			m.logger.Info("no trained model, detection skipped", slog.String("job", job.Name))
			return nil, nil
		}
		art, err := artifact.Decode(data)
		if err != nil {
			return nil, err
		}
		if art.ModelID != job.ModelID {
			return nil, fmt.Errorf("%w: stored %s, job uses %s", ErrModelMismatch, art.ModelID, job.ModelID)
		}
		state = art.State
		if art.Stats.Count > 0 {
			stats = &art.Stats
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := detector.Params(job.Params)
	threshold, err := params.Threshold()
	if err != nil {
		return nil, err
	}
	rows, index := detector.Features(samples, job.ValueFields)
	if len(rows) == 0 {
		return nil, nil
	}
	scores, err := model.Score(state, rows, params)
	if err != nil {
		return nil, fmt.Errorf("score %s: %w", job.ModelID, err)
	}
	if len(scores) != len(rows) {
		return nil, fmt.Errorf("model %s returned %d scores for %d rows", job.ModelID, len(scores), len(rows))
	}

	type flagged struct {
		score float64
		rec   models.Record
	}
	var hits []flagged
	minScore := math.Inf(1)
	for i, s := range scores {
		if s < threshold {
			hits = append(hits, flagged{score: s, rec: samples[index[i]]})
			minScore = math.Min(minScore, s)
		}
	}
	if len(hits) == 0 {
		return nil, nil
	}

	now := m.now().UTC()
	out = make([]models.Anomaly, 0, len(hits))
	for _, h := range hits {
		conf := confidence(h.score, minScore)
		rec := h.rec.Clone()
		rec["score"] = h.score
		rec["confidence"] = conf
		out = append(out, models.Anomaly{
			Job:         job.Name,
			Description: Describe(job, rec, conf, stats),
			Time:        now,
			Score:       h.score,
			Confidence:  conf,
			Data:        rec,
		})
	}
	sortByStart(out)
	m.logger.Info("anomalies detected", slog.String("job", job.Name), slog.Int("count", len(out)))
	return out, nil
}

func (m *Manager) logFailure(msg string, job models.Job, samples []models.Record, err error) {
	var columns []string
	if len(samples) > 0 {
		columns = samples[0].Columns()
	}
	m.logger.Error(msg,
		slog.String("job", job.Name),
		slog.Int("samples", len(samples)),
		slog.Any("columns", columns),
		slog.Any("error", err),
	)
}

// confidence scales score against the most anomalous score of the batch.
func confidence(score, minScore float64) float64 {
	if minScore == 0 {
		return 0.99
	}
	c := math.Min(0.99, math.Abs(score/minScore))
	return math.Round(c*100) / 100
}

func trainingStats(rows [][]float64) models.AggregatorStats {
	var st models.AggregatorStats
	if len(rows) == 0 {
		return st
	}
	st.Min, st.Max = math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		v := row[0]
		st.Count++
		st.Sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = st.Sum / st.Count
	if st.Count > 1 {
		var sq float64
		for _, row := range rows {
			d := row[0] - st.Mean
			sq += d * d
		}
		st.Std = math.Sqrt(sq / (st.Count - 1))
	}
	return st
}

func sortByStart(anomalies []models.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		ti, iok := utils.ParseRecordTime(anomalies[i].Data["start_time"])
		tj, jok := utils.ParseRecordTime(anomalies[j].Data["start_time"])
		if iok && jok {
			return ti.Before(tj)
		}
		return iok && !jok
	})
}
