package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-hotspots/internal/api"
	"github.com/miradorstack/mirador-hotspots/internal/diagnostics"
	"github.com/miradorstack/mirador-hotspots/internal/engine"
	"github.com/miradorstack/mirador-hotspots/internal/history"
	"github.com/miradorstack/mirador-hotspots/internal/jobs"
	"github.com/miradorstack/mirador-hotspots/internal/metrics"
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/scheduler"
)

// ServiceName is reported by Ping.
const ServiceName = "performance_hotspots_service"

// Cycles runs train and detect cycles.
type Cycles interface {
	TrainCycle(ctx context.Context, src engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error)
	DetectCycle(ctx context.Context, src engine.SampleSource, opts engine.CycleOptions) (engine.CycleResult, error)
}

// JobRegistry is the job table plus its parameter update path.
type JobRegistry interface {
	List(exclude ...string) []models.Job
	Lookup(name string) (models.Job, error)
	Params(name string) (map[string]any, error)
	AllParams() map[string]map[string]any
	Apply(update jobs.ParamUpdate) (map[string]any, error)
}

// TaskQueue accepts background work.
type TaskQueue interface {
	Submit(kind string, fn scheduler.Task) (string, error)
}

// Assembler shapes request records into per-job samples.
type Assembler interface {
	Assemble(jobs []models.Job, records []models.Record) *models.DataSet
}

// SelfDiagnostics runs a self-diagnostics pass.
type SelfDiagnostics interface {
	Run(ctx context.Context, id string) (diagnostics.Report, error)
}

// Dependencies collects what the service dispatches to. Fixtures serves the
// test_dataset data source; Live serves the logs data source.
type Dependencies struct {
	Cycles      Cycles
	Jobs        JobRegistry
	Tasks       TaskQueue
	Live        engine.SampleSource
	Fixtures    engine.SampleSource
	Assembler   Assembler
	Diagnostics SelfDiagnostics
	History     history.Store
}

// HotspotsService implements the gRPC Hotspots service.
type HotspotsService struct {
	api.UnimplementedHotspotsServer

	logger *slog.Logger
	deps   Dependencies
	now    func() time.Time
}

// NewHotspotsService constructs the service facade.
func NewHotspotsService(logger *slog.Logger, deps Dependencies) *HotspotsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HotspotsService{logger: logger, deps: deps, now: time.Now}
}

// Ping reports the service name and the current UTC time.
func (s *HotspotsService) Ping(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"service": ServiceName,
		"utcnow":  s.now().UTC().Format(time.RFC3339Nano),
	})
}

// Train queues training of one dynamic job, or of every dynamic job when job is "all".
func (s *HotspotsService) Train(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.deps.Cycles == nil || s.deps.Tasks == nil {
		return nil, status.Error(codes.FailedPrecondition, "training not configured")
	}
	op, err := api.FromStructOperationRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	selected, err := s.resolveJobs(op)
	if err != nil {
		return nil, err
	}

	var dynamic []models.Job
	for _, job := range selected {
		if job.Dynamic {
			dynamic = append(dynamic, job)
		}
	}
	if len(dynamic) == 0 {
		return nil, status.Errorf(codes.FailedPrecondition, "no training of %q: the model is static", op.Job)
	}

	src, err := s.source(op, dynamic)
	if err != nil {
		return nil, err
	}
	opts := cycleOptions(op, dynamic)
	id, err := s.deps.Tasks.Submit(metrics.KindTrain, func(ctx context.Context, _ string) error {
		_, err := s.deps.Cycles.TrainCycle(ctx, src, opts)
		return err
	})
	if err != nil {
		return nil, queueError(err)
	}

	st := models.TaskStatus{TaskID: id, Status: "queued"}
	for _, job := range dynamic {
		st.Jobs = append(st.Jobs, job.Name)
	}
	s.logger.Info("training queued",
		slog.String("task_id", id),
		slog.String("job", op.Job),
		slog.String("data_source", string(op.Source)),
	)
	return api.ToStructTaskStatus(st)
}

// Detect runs detection synchronously and returns the anomalies. It never moves
// the checkpoint and never sends alerts.
func (s *HotspotsService) Detect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.deps.Cycles == nil {
		return nil, status.Error(codes.FailedPrecondition, "detection not configured")
	}
	op, err := api.FromStructOperationRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	selected, err := s.resolveJobs(op)
	if err != nil {
		return nil, err
	}
	src, err := s.source(op, selected)
	if err != nil {
		return nil, err
	}

	opts := cycleOptions(op, selected)
	opts.Offline = true
	res, err := s.deps.Cycles.DetectCycle(ctx, src, opts)
	if errors.Is(err, engine.ErrInterrupted) {
		return nil, status.Error(codes.Canceled, "detection interrupted")
	}
	if err != nil {
		s.logger.Error("detect failed", slog.String("job", op.Job), slog.Any("error", err))
		return nil, status.Error(codes.Internal, fmt.Sprintf("detection failed: %v", err))
	}
	if res.Samples == 0 {
		return nil, status.Errorf(codes.NotFound, "no detection with %q: no samples", op.Job)
	}
	s.logger.Info("detection finished",
		slog.String("job", op.Job),
		slog.Int("samples", res.Samples),
		slog.Int("anomalies", len(res.Anomalies)),
	)
	return api.ToStructAnomalies(res.Anomalies)
}

// StartSelfDiagnostics queues a self-diagnostics pass and returns its id.
func (s *HotspotsService) StartSelfDiagnostics(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Diagnostics == nil || s.deps.Tasks == nil {
		return nil, status.Error(codes.FailedPrecondition, "self-diagnostics not configured")
	}
	id, err := s.deps.Tasks.Submit(metrics.KindSelfDiagnostics, func(ctx context.Context, id string) error {
		_, err := s.deps.Diagnostics.Run(ctx, id)
		return err
	})
	if err != nil {
		return nil, queueError(err)
	}
	return structpb.NewStruct(map[string]any{api.FieldID: id, "status": "queued"})
}

// GetSelfDiagnosticsResult returns a stored report by id or by index; "-1" is the latest.
func (s *HotspotsService) GetSelfDiagnosticsResult(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.History == nil {
		return nil, status.Error(codes.FailedPrecondition, "history not configured")
	}
	id := api.FromStructID(req)
	rec, ok, err := s.deps.History.Read(history.OpSelfDiagnostics, id)
	if err != nil {
		s.logger.Error("read self-diagnostics history failed", slog.String("id", id), slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to read self-diagnostics history")
	}
	if !ok {
		return nil, status.Error(codes.NotFound, "no self-diagnostics result yet")
	}
	out, err := api.ToStructJSON(rec.Result)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// GetParameters returns the parameters of one job, or of every job when job is empty or "all".
func (s *HotspotsService) GetParameters(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.deps.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	name := api.FromStructJobName(req)
	if name == "" || name == models.AllJobs {
		return api.ToStructParams(s.deps.Jobs.AllParams())
	}
	params, err := s.deps.Jobs.Params(name)
	if err != nil {
		return nil, registryError(err)
	}
	return api.ToStructParams(map[string]map[string]any{name: params})
}

// SetParameters applies a parameter update and returns the job's resulting parameters.
// Updates live in memory only and do not survive restarts.
func (s *HotspotsService) SetParameters(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}
	if s.deps.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	update, err := api.FromStructParamUpdate(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	params, err := s.deps.Jobs.Apply(update)
	if err != nil {
		return nil, registryError(err)
	}
	s.logger.Info("parameters updated", slog.String("job", update.Job), slog.Any("params", update.Params))
	return api.ToStructParams(map[string]map[string]any{update.Job: params})
}

// resolveJobs maps the requested job name onto registry jobs. "all" is only
// accepted with the logs data source.
func (s *HotspotsService) resolveJobs(op models.OperationRequest) ([]models.Job, error) {
	if s.deps.Jobs == nil {
		return nil, status.Error(codes.FailedPrecondition, "job registry not configured")
	}
	if op.Job == models.AllJobs {
		if op.Source != models.DataSourceLogs {
			return nil, status.Errorf(codes.InvalidArgument, "job %q can only be used with the %q data_source", models.AllJobs, models.DataSourceLogs)
		}
		return s.deps.Jobs.List(), nil
	}
	job, err := s.deps.Jobs.Lookup(op.Job)
	if err != nil {
		return nil, registryError(err)
	}
	if op.Source == models.DataSourceRequest && op.LogName != job.SourceLog {
		return nil, status.Errorf(codes.InvalidArgument, "%s requires %q records in log_name, got %q", job.Name, job.SourceLog, op.LogName)
	}
	return []models.Job{job}, nil
}

func (s *HotspotsService) source(op models.OperationRequest, selected []models.Job) (engine.SampleSource, error) {
	switch op.Source {
	case models.DataSourceLogs:
		if s.deps.Live == nil {
			return nil, status.Error(codes.FailedPrecondition, "telemetry source not configured")
		}
		return s.deps.Live, nil
	case models.DataSourceTestDataset:
		if s.deps.Fixtures == nil {
			return nil, status.Error(codes.FailedPrecondition, "test datasets not configured")
		}
		return s.deps.Fixtures, nil
	case models.DataSourceRequest:
		if s.deps.Assembler == nil {
			return nil, status.Error(codes.FailedPrecondition, "request data not supported")
		}
		records := op.Data
		if op.MaxRecords > 0 && len(records) > op.MaxRecords {
			records = records[:op.MaxRecords]
		}
		ds := s.deps.Assembler.Assemble(selected, records)
		if ds.Empty() {
			return nil, status.Errorf(codes.NotFound, "no samples for %q", op.Job)
		}
		return dataSetSource{ds: ds}, nil
	}
	return nil, status.Errorf(codes.InvalidArgument, "unsupported data_source %q", op.Source)
}

func cycleOptions(op models.OperationRequest, selected []models.Job) engine.CycleOptions {
	return engine.CycleOptions{
		Offline:    op.Source != models.DataSourceLogs,
		Jobs:       selected,
		Start:      op.TimeRange.Start,
		End:        op.TimeRange.End,
		MaxRecords: op.MaxRecords,
	}
}

// dataSetSource serves an already shaped data set.
type dataSetSource struct {
	ds *models.DataSet
}

func (s dataSetSource) Fetch(context.Context, models.FetchRequest) (*models.DataSet, error) {
	return s.ds, nil
}

func registryError(err error) error {
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		return status.Error(codes.NotFound, err.Error())
	default:
		return status.Error(codes.InvalidArgument, err.Error())
	}
}

func queueError(err error) error {
	if errors.Is(err, scheduler.ErrQueueFull) {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
