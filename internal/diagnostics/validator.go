// Package diagnostics replays labelled fixtures through the detection pipeline
// and scores the result before live output is trusted.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-hotspots/internal/engine"
	"github.com/miradorstack/mirador-hotspots/internal/history"
	"github.com/miradorstack/mirador-hotspots/internal/metrics"
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// Runner executes train and detect cycles.
type Runner interface {
	Jobs() []models.Job
	TrainCycle(ctx context.Context, src engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error)
	DetectCycle(ctx context.Context, src engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error)
}

// CycleReport describes one of the two self-diagnostics cycles.
type CycleReport struct {
	Description string              `json:"description"`
	Result      string              `json:"result"`
	Jobs        map[string]JobScore `json:"jobs,omitempty"`
	Detected    map[string]int      `json:"detected,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// Report is the composite self-diagnostics result.
type Report struct {
	ID           string      `json:"id"`
	Result       string      `json:"result"`
	FixtureCycle CycleReport `json:"fixture_cycle"`
	LiveCycle    CycleReport `json:"live_cycle"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// ReportError is returned when the live cycle failed. Its message is the JSON report.
type ReportError struct {
	Report Report
}

func (e *ReportError) Error() string {
	data, err := json.Marshal(e.Report)
	if err != nil {
		return fmt.Sprintf("self-diagnostics failed: %s", e.Report.LiveCycle.Error)
	}
	return string(data)
}

// Validator runs self-diagnostics.
type Validator struct {
	logger   *slog.Logger
	runner   Runner
	live     engine.SampleSource
	history  history.Store
	fixtures map[string]Fixture
	now      func() time.Time
}

// NewValidator loads the embedded fixtures for the runner's jobs.
func NewValidator(logger *slog.Logger, runner Runner, live engine.SampleSource, hist history.Store) (*Validator, error) {
	fixtures, err := LoadFixtures(runner.Jobs())
	if err != nil {
		return nil, err
	}
	return newValidator(logger, runner, live, hist, fixtures), nil
}

func newValidator(logger *slog.Logger, runner Runner, live engine.SampleSource, hist history.Store, fixtures map[string]Fixture) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{logger: logger, runner: runner, live: live, history: hist, fixtures: fixtures, now: time.Now}
}

// Run executes the fixture cycle, the live cycle and scoring, then persists the
// report under id (generated when empty). A live cycle failure is embedded in
// the report and returned as *ReportError after the report is persisted.
func (v *Validator) Run(ctx context.Context, id string) (Report, error) {
	if id == "" {
		id = uuid.NewString()
	}
	started := v.now()
	report := Report{ID: id, StartedAt: started.UTC()}
	v.logger.Info("self-diagnostics started", slog.String("id", id))

	fixtureAnomalies, err := v.fixtureCycle(ctx, &report.FixtureCycle)
	if err != nil {
		return report, err
	}
	if v.history != nil {
		if _, err := v.history.Append(history.OpFixtureAnomalies, models.AllJobs, fixtureAnomalies, id); err != nil {
			return report, utils.NewAppError("self_diagnostics", "persist fixture anomalies", fmt.Errorf("%w: %w", engine.ErrPersistence, err))
		}
	}

	liveErr := v.liveCycle(ctx, &report.LiveCycle)

	report.Result = ResultFailure
	if report.FixtureCycle.Result == ResultSuccess && report.LiveCycle.Result == ResultSuccess {
		report.Result = ResultSuccess
	}
	report.FinishedAt = v.now().UTC()

	if v.history != nil {
		if _, err := v.history.Append(history.OpSelfDiagnostics, models.AllJobs, report, id); err != nil {
			return report, utils.NewAppError("self_diagnostics", "persist report", fmt.Errorf("%w: %w", engine.ErrPersistence, err))
		}
	}
	outcome := metrics.OutcomeSuccess
	if report.Result != ResultSuccess {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveCycle(metrics.KindSelfDiagnostics, v.now().Sub(started), outcome)
	v.logger.Info("self-diagnostics finished",
		slog.String("id", id),
		slog.String("result", report.Result),
		slog.String("fixture", report.FixtureCycle.Result),
		slog.String("live", report.LiveCycle.Result),
	)
	if liveErr != nil {
		return report, &ReportError{Report: report}
	}
	return report, nil
}

func (v *Validator) fixtureCycle(ctx context.Context, out *CycleReport) ([]models.Anomaly, error) {
	out.Description = "A training+detection cycle on the labelled fixtures."
	out.Jobs = map[string]JobScore{}

	var jobs []models.Job
	for _, job := range v.runner.Jobs() {
		if _, ok := v.fixtures[job.Name]; ok {
			jobs = append(jobs, job)
		}
	}
	src := NewFixtureSource(v.fixtures)
	opts := engine.CycleOptions{Cycle: 0, Offline: true, Jobs: jobs}
	if _, err := v.runner.TrainCycle(ctx, src, opts); err != nil {
		return nil, fmt.Errorf("fixture training: %w", err)
	}
	res, err := v.runner.DetectCycle(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("fixture detection: %w", err)
	}

	out.Result = ResultSuccess
	var all []models.Anomaly
	for _, job := range jobs {
		detected := res.PerJob[job.Name]
		all = append(all, detected...)
		score := Score(job, v.fixtures[job.Name].Expected(), detected)
		out.Jobs[job.Name] = score
		metrics.SetSelfDiagnosticsF1(job.Name, score.F1)
		if score.Result != ResultSuccess {
			out.Result = ResultFailure
		}
		v.logger.Info("self-diagnostics job scored",
			slog.String("job", job.Name),
			slog.Float64("f1", score.F1),
			slog.Float64("tolerance", score.Tolerance),
			slog.String("result", score.Result),
		)
	}
	return all, nil
}

// liveCycle runs train and detect against live telemetry. Errors and panics are
// captured in out and returned; an empty result is not a failure.
func (v *Validator) liveCycle(ctx context.Context, out *CycleReport) (err error) {
	out.Description = "A training+detection cycle on live telemetry."
	defer func() {
		if perr := utils.Recovered("self_diagnostics live cycle", recover()); perr != nil {
			err = perr
		}
		if err != nil {
			out.Result = ResultFailure
			out.Error = "Exception: " + err.Error()
			v.logger.Error("self-diagnostics live cycle failed", slog.Any("error", err))
			return
		}
		out.Result = ResultSuccess
	}()

	if _, err := v.runner.TrainCycle(ctx, v.live, engine.CycleOptions{Cycle: 0}); err != nil {
		return err
	}
	res, err := v.runner.DetectCycle(ctx, v.live, engine.CycleOptions{Cycle: 0})
	if err != nil {
		return err
	}
	out.Detected = map[string]int{}
	for _, a := range res.Anomalies {
		out.Detected[a.Job]++
	}
	return nil
}
