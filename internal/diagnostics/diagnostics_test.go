package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/miradorstack/mirador-hotspots/internal/artifact"
	"github.com/miradorstack/mirador-hotspots/internal/checkpoint"
	"github.com/miradorstack/mirador-hotspots/internal/engine"
	"github.com/miradorstack/mirador-hotspots/internal/history"
	"github.com/miradorstack/mirador-hotspots/internal/jobs"
	"github.com/miradorstack/mirador-hotspots/internal/models"
)

func keyed(ids ...string) []models.Record {
	out := make([]models.Record, len(ids))
	for i, id := range ids {
		out[i] = models.Record{"id": id}
	}
	return out
}

func detected(ids ...string) []models.Anomaly {
	out := make([]models.Anomaly, len(ids))
	for i, id := range ids {
		out[i] = models.Anomaly{Data: models.Record{"id": id}}
	}
	return out
}

func TestScoreExample(t *testing.T) {
	job := models.Job{Name: "x", GroupFields: []string{"id"}, Tolerance: 0.6}
	s := Score(job, keyed("a", "b", "c"), detected("a", "b", "d"))
	if s.TP != 2 || s.FP != 1 || s.FN != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.Precision != 0.667 || s.Recall != 0.667 || s.F1 != 0.667 {
		t.Fatalf("unexpected ratios: %+v", s)
	}
	if s.Result != ResultSuccess {
		t.Fatalf("expected pass at tolerance 0.6")
	}
	job.Tolerance = 0.8
	if Score(job, keyed("a", "b", "c"), detected("a", "b", "d")).Result != ResultFailure {
		t.Fatalf("expected failure at tolerance 0.8")
	}
}

func TestScoreZeroDenominators(t *testing.T) {
	job := models.Job{GroupFields: []string{"id"}, Tolerance: 0.8}
	if s := Score(job, nil, nil); s.F1 != 1 || s.Precision != 1 || s.Recall != 1 {
		t.Fatalf("nothing expected and nothing found should be perfect: %+v", s)
	}
	if s := Score(job, keyed("a"), nil); s.Precision != 0 || s.Recall != 0 || s.F1 != 0 {
		t.Fatalf("missed everything should score zero: %+v", s)
	}
}

func TestKeyJoinsGroupFields(t *testing.T) {
	rec := models.Record{"start_time": "2024-06-01 10:00:00", "ns": "shop", "v": 12.5}
	if got := Key(rec, []string{"start_time", "ns", "v", "missing"}); got != "2024-06-01 10:00:00|shop|12.5|" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestEmbeddedFixturesCoverEveryJob(t *testing.T) {
	table := jobs.DefaultTable()
	fixtures, err := LoadFixtures(table)
	if err != nil {
		t.Fatalf("load fixtures: %v", err)
	}
	for _, job := range table {
		f, ok := fixtures[job.Name]
		if !ok {
			t.Fatalf("missing fixture for %s", job.Name)
		}
		if len(f.Records) == 0 || len(f.Expected()) == 0 {
			t.Fatalf("fixture %s has no labelled anomalies", job.Name)
		}
		for _, field := range append(append([]string(nil), job.GroupFields...), job.ValueFields...) {
			if _, ok := f.Records[0][field]; !ok {
				t.Fatalf("fixture %s lacks field %s", job.Name, field)
			}
		}
		if _, ok := f.Records[0][LabelField]; ok {
			t.Fatalf("fixture %s leaks the label column", job.Name)
		}
	}
}

type fakeRunner struct {
	jobs      []models.Job
	fixtures  map[string]Fixture
	liveErr   error
	livePanic bool
}

func (r *fakeRunner) Jobs() []models.Job { return r.jobs }

func (r *fakeRunner) TrainCycle(context.Context, engine.SampleSource, engine.CycleOptions) (engine.CycleResult, error) {
	return engine.CycleResult{}, nil
}

func (r *fakeRunner) DetectCycle(_ context.Context, _ engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error) {
	if !opts.Offline {
		if r.livePanic {
			panic("live source exploded")
		}
		return engine.CycleResult{}, r.liveErr
	}
	res := engine.CycleResult{PerJob: map[string][]models.Anomaly{}}
	for _, job := range opts.Jobs {
		for _, rec := range r.fixtures[job.Name].Expected() {
			res.PerJob[job.Name] = append(res.PerJob[job.Name], models.Anomaly{Job: job.Name, Data: rec})
		}
	}
	return res, nil
}

func newFakeValidator(t *testing.T, runner *fakeRunner) (*Validator, *history.FileStore) {
	t.Helper()
	hist, err := history.NewFileStore(t.TempDir(), 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	fixtures, err := LoadFixtures(runner.jobs)
	if err != nil {
		t.Fatalf("fixtures: %v", err)
	}
	runner.fixtures = fixtures
	return newValidator(nil, runner, nil, hist, fixtures), hist
}

func TestRunPersistsReportUnderCallerID(t *testing.T) {
	v, hist := newFakeValidator(t, &fakeRunner{jobs: jobs.DefaultTable()})
	report, err := v.Run(context.Background(), "diag-1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Result != ResultSuccess || len(report.FixtureCycle.Jobs) != 5 {
		t.Fatalf("unexpected report: %+v", report)
	}
	rec, ok, err := hist.Read(history.OpSelfDiagnostics, "diag-1")
	if err != nil || !ok || rec.ID != "diag-1" || rec.Job != models.AllJobs {
		t.Fatalf("report not persisted: %+v ok=%v err=%v", rec, ok, err)
	}
	if _, ok, _ := hist.Read(history.OpFixtureAnomalies, "diag-1"); !ok {
		t.Fatalf("fixture anomalies not persisted")
	}
}

func TestRunEmbedsLiveFailure(t *testing.T) {
	v, hist := newFakeValidator(t, &fakeRunner{jobs: jobs.DefaultTable(), liveErr: errors.New("elastic unreachable")})
	report, err := v.Run(context.Background(), "diag-2")
	var reportErr *ReportError
	if !errors.As(err, &reportErr) {
		t.Fatalf("expected *ReportError, got %v", err)
	}
	if report.Result != ResultFailure || report.LiveCycle.Result != ResultFailure {
		t.Fatalf("expected failure report, got %+v", report)
	}
	var decoded Report
	if err := json.Unmarshal([]byte(reportErr.Error()), &decoded); err != nil {
		t.Fatalf("error message must be the JSON report: %v", err)
	}
	if !strings.Contains(decoded.LiveCycle.Error, "elastic unreachable") {
		t.Fatalf("unexpected live error: %q", decoded.LiveCycle.Error)
	}
	if _, ok, _ := hist.Read(history.OpSelfDiagnostics, "diag-2"); !ok {
		t.Fatalf("failed report must still be persisted")
	}
}

func TestRunCapturesLivePanic(t *testing.T) {
	v, _ := newFakeValidator(t, &fakeRunner{jobs: jobs.DefaultTable(), livePanic: true})
	report, err := v.Run(context.Background(), "")
	if err == nil || report.ID == "" {
		t.Fatalf("expected failure with a generated id, got id=%q err=%v", report.ID, err)
	}
	if !strings.Contains(report.LiveCycle.Error, "live source exploded") {
		t.Fatalf("panic not captured: %q", report.LiveCycle.Error)
	}
}

type emptySource struct{}

func (emptySource) Fetch(context.Context, models.FetchRequest) (*models.DataSet, error) {
	return models.NewDataSet(), nil
}

func TestFixturesPassThroughRealPipeline(t *testing.T) {
	dir := t.TempDir()
	store, err := artifact.NewFileStore(dir + "/models")
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	hist, err := history.NewFileStore(dir+"/history", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	registry, err := jobs.NewRegistry(jobs.DefaultTable(), nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	manager := engine.NewManager(nil, store, nil, &sync.Mutex{})
	pipeline := engine.NewPipeline(nil, manager, registry, checkpoint.NewFileStore(dir+"/checkpoint.json", 0), hist, nil, engine.PipelineOptions{})

	v, err := NewValidator(nil, pipeline, emptySource{}, hist)
	if err != nil {
		t.Fatalf("validator: %v", err)
	}
	report, err := v.Run(context.Background(), "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for name, score := range report.FixtureCycle.Jobs {
		if score.Result != ResultSuccess {
			t.Fatalf("job %s failed its fixture: %+v", name, score)
		}
	}
	if report.Result != ResultSuccess {
		t.Fatalf("expected overall success, got %+v", report)
	}
}
