// Package engine runs the train and detect lifecycle of anomaly detection jobs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/checkpoint"
	"github.com/miradorstack/mirador-hotspots/internal/history"
	"github.com/miradorstack/mirador-hotspots/internal/metrics"
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// ErrPersistence marks checkpoint and history failures, as opposed to per-job model errors.
var ErrPersistence = errors.New("persistence failure")

// ErrInterrupted marks a cycle whose context ended before it completed. The
// checkpoint is left in place so the window is scanned again.
var ErrInterrupted = errors.New("cycle interrupted")

// SampleSource supplies the samples of a cycle.
type SampleSource interface {
	Fetch(ctx context.Context, req models.FetchRequest) (*models.DataSet, error)
}

// AlertSender delivers anomalies to the alert sink.
type AlertSender interface {
	Send(ctx context.Context, anomalies []models.Anomaly) (int, error)
}

// JobSource lists the enabled jobs in registry order.
type JobSource interface {
	List(exclude ...string) []models.Job
	Dynamic(exclude ...string) []models.Job
}

// PipelineOptions carries the configured retrieval windows and alert switch.
// Zero times mean "not configured".
type PipelineOptions struct {
	TrainInterval time.Duration
	TrainStart    time.Time
	TrainEnd      time.Time
	SearchStart   time.Time
	SearchEnd     time.Time
	SendAlerts    bool
	MaxDocs       int
}

// CycleOptions controls a single train or detect cycle.
type CycleOptions struct {
	// Cycle is the scheduler counter. Cycle 0 is the startup cycle: it clears
	// the checkpoint and never sends alerts.
	Cycle int
	// Offline cycles run on fixture or request data. They leave the checkpoint
	// and history alone and never send alerts.
	Offline bool
	// Jobs restricts the cycle. Nil means every enabled job.
	Jobs       []models.Job
	Start      time.Time
	End        time.Time
	MaxRecords int
}

// JobOutcome summarises one job within a cycle.
type JobOutcome struct {
	Job       string `json:"job"`
	Samples   int    `json:"samples"`
	Anomalies int    `json:"anomalies"`
	Error     string `json:"error,omitempty"`
}

// CycleResult is the outcome of a cycle. PerJob holds anomalies before correlation.
type CycleResult struct {
	Kind       string                      `json:"kind"`
	Cycle      int                         `json:"cycle"`
	Start      time.Time                   `json:"start"`
	End        time.Time                   `json:"end"`
	Samples    int                         `json:"samples"`
	Jobs       []JobOutcome                `json:"jobs"`
	PerJob     map[string][]models.Anomaly `json:"-"`
	Anomalies  []models.Anomaly            `json:"anomalies"`
	AlertsSent int                         `json:"alerts_sent"`
}

// Pipeline drives cycles through the lifecycle manager.
type Pipeline struct {
	logger     *slog.Logger
	manager    *Manager
	jobs       JobSource
	checkpoint checkpoint.Store
	history    history.Store
	alerts     AlertSender
	rules      []CorrelationRule
	opts       PipelineOptions
	now        func() time.Time
}

// NewPipeline constructs a cycle pipeline. history and alerts may be nil.
func NewPipeline(
	logger *slog.Logger,
	manager *Manager,
	jobs JobSource,
	cp checkpoint.Store,
	hist history.Store,
	alerts AlertSender,
	opts PipelineOptions,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:     logger,
		manager:    manager,
		jobs:       jobs,
		checkpoint: cp,
		history:    hist,
		alerts:     alerts,
		rules:      DefaultCorrelations(),
		opts:       opts,
		now:        time.Now,
	}
}

// Jobs returns the enabled jobs.
func (p *Pipeline) Jobs() []models.Job {
	return p.jobs.List()
}

// TrainCycle trains every dynamic job of the cycle on freshly fetched samples.
// Per-job failures are reported in the result and never abort the cycle.
func (p *Pipeline) TrainCycle(ctx context.Context, src SampleSource, opts CycleOptions) (res CycleResult, err error) {
	started := p.now()
	defer func() { observe(metrics.KindTrain, started, err) }()

	jobs := dynamicOnly(opts.Jobs)
	if opts.Jobs == nil {
		jobs = p.jobs.Dynamic()
	}
	res = CycleResult{Kind: metrics.KindTrain, Cycle: opts.Cycle}
	res.Start, res.End = p.trainWindow(opts)
	p.logger.Info("training started",
		slog.Int("cycle", opts.Cycle),
		slog.Int("models", len(jobs)),
		slog.Bool("offline", opts.Offline),
	)

	ds, err := src.Fetch(ctx, models.FetchRequest{Jobs: jobs, Start: res.Start, End: res.End, MaxDocs: p.maxDocs(opts)})
	if err != nil {
		return res, utils.NewAppError("train", "fetch samples", err)
	}
	res.Samples = ds.Len()
	if ds.Empty() {
		p.logger.Info("training stopped, no samples", slog.Int("cycle", opts.Cycle))
		return res, nil
	}

	for _, job := range jobs {
		samples := ds.For(job)
		outcome := JobOutcome{Job: job.Name, Samples: len(samples)}
		if err := p.manager.Train(ctx, job, samples); err != nil {
			outcome.Error = err.Error()
			metrics.IncJobFailure(job.Name, metrics.KindTrain)
		}
		res.Jobs = append(res.Jobs, outcome)
	}
	if err := ctx.Err(); err != nil {
		return res, interruptedError("train", err)
	}

	if !opts.Offline {
		if err := p.record(history.OpTrain, res); err != nil {
			return res, err
		}
	}
	p.logger.Info("training finished", slog.Int("cycle", opts.Cycle), slog.Int("models", len(jobs)))
	return res, nil
}

// DetectCycle scans the window since the checkpoint, correlates the anomalies,
// advances the checkpoint and sends alerts. The checkpoint is never advanced
// when fetching fails.
func (p *Pipeline) DetectCycle(ctx context.Context, src SampleSource, opts CycleOptions) (res CycleResult, err error) {
	started := p.now()
	defer func() { observe(metrics.KindDetect, started, err) }()

	ts := started.UTC()
	jobs := opts.Jobs
	if jobs == nil {
		jobs = p.jobs.List()
	}
	res = CycleResult{Kind: metrics.KindDetect, Cycle: opts.Cycle, PerJob: map[string][]models.Anomaly{}}
	p.logger.Info("detection started",
		slog.Int("cycle", opts.Cycle),
		slog.Int("models", len(jobs)),
		slog.Bool("offline", opts.Offline),
	)

	if !opts.Offline && opts.Cycle == 0 {
		if err := p.checkpoint.Clear(ctx); err != nil {
			return res, persistenceError("clear checkpoint", err)
		}
	}
	res.Start, res.End, err = p.searchWindow(ctx, opts, ts)
	if err != nil {
		return res, err
	}

	ds, err := src.Fetch(ctx, models.FetchRequest{Jobs: jobs, Start: res.Start, End: res.End, MaxDocs: p.maxDocs(opts)})
	if err != nil {
		return res, utils.NewAppError("detect", "fetch samples", err)
	}
	res.Samples = ds.Len()

	if ds.Empty() {
		p.logger.Info("detection skipped, no samples", slog.Int("cycle", opts.Cycle))
	} else {
		for _, job := range jobs {
			samples := ds.For(job)
			outcome := JobOutcome{Job: job.Name, Samples: len(samples)}
			if len(samples) == 0 {
				p.logger.Info("detection skipped for job, no samples", slog.String("job", job.Name))
				res.Jobs = append(res.Jobs, outcome)
				continue
			}
			anomalies, err := p.manager.Detect(ctx, job, samples)
			if err != nil {
				outcome.Error = err.Error()
				metrics.IncJobFailure(job.Name, metrics.KindDetect)
			}
			outcome.Anomalies = len(anomalies)
			res.PerJob[job.Name] = anomalies
			res.Jobs = append(res.Jobs, outcome)
		}
		res.Anomalies = Correlate(res.PerJob, jobs, p.rules)
	}
	if err := ctx.Err(); err != nil {
		return res, interruptedError("detect", err)
	}

	if opts.Offline {
		return res, nil
	}
	if err := p.checkpoint.Save(ctx, ts); err != nil {
		return res, persistenceError("save checkpoint", err)
	}
	for _, a := range res.Anomalies {
		metrics.AddAnomalies(a.Job, 1)
	}
	if opts.Cycle > 0 && p.opts.SendAlerts && len(res.Anomalies) > 0 && p.alerts != nil {
		sent, err := p.alerts.Send(ctx, res.Anomalies)
		if err != nil {
			p.logger.Warn("some alerts were not delivered", slog.Any("error", err))
		}
		res.AlertsSent = sent
	}
	if err := p.record(history.OpDetect, res); err != nil {
		return res, err
	}
	p.logger.Info("detection finished",
		slog.Int("cycle", opts.Cycle),
		slog.Int("anomalies", len(res.Anomalies)),
		slog.Int("alerts", res.AlertsSent),
	)
	return res, nil
}

func (p *Pipeline) trainWindow(opts CycleOptions) (time.Time, time.Time) {
	end := firstSet(opts.End, p.opts.TrainEnd, p.now().UTC())
	start := firstSet(opts.Start, p.opts.TrainStart, end.Add(-p.opts.TrainInterval))
	return start, end
}

func (p *Pipeline) searchWindow(ctx context.Context, opts CycleOptions, ts time.Time) (time.Time, time.Time, error) {
	end := firstSet(opts.End, p.opts.SearchEnd, ts)
	start := firstSet(opts.Start, p.opts.SearchStart)
	if start.IsZero() && !opts.Offline {
		last, err := p.checkpoint.Load(ctx)
		if err != nil {
			return time.Time{}, time.Time{}, persistenceError("load checkpoint", err)
		}
		start = last
	}
	return start, end, nil
}

func (p *Pipeline) maxDocs(opts CycleOptions) int {
	if opts.MaxRecords > 0 {
		return opts.MaxRecords
	}
	return p.opts.MaxDocs
}

func (p *Pipeline) record(op string, res CycleResult) error {
	if p.history == nil {
		return nil
	}
	if _, err := p.history.Append(op, models.AllJobs, res, ""); err != nil {
		return persistenceError("append "+op+" history", err)
	}
	return nil
}

func persistenceError(msg string, err error) error {
	return utils.NewAppError("persist", msg, fmt.Errorf("%w: %w", ErrPersistence, err))
}

func interruptedError(op string, err error) error {
	return utils.NewAppError(op, "cycle interrupted", fmt.Errorf("%w: %w", ErrInterrupted, err))
}

func observe(kind string, started time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveCycle(kind, time.Since(started), outcome)
}

func dynamicOnly(jobs []models.Job) []models.Job {
	var out []models.Job
	for _, j := range jobs {
		if j.Dynamic {
			out = append(out, j)
		}
	}
	return out
}

func firstSet(values ...time.Time) time.Time {
	for _, v := range values {
		if !v.IsZero() {
			return v
		}
	}
	return time.Time{}
}
