package api

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-hotspots/internal/jobs"
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// Request and response field names.
const (
	FieldJob        = "job"
	FieldDataSource = "data_source"
	FieldLogName    = "log_name"
	FieldRecords    = "records"
	FieldStart      = "start"
	FieldEnd        = "end"
	FieldMaxRecords = "max_records"
	FieldID         = "id"
	FieldParams     = "params"
	FieldJobs       = "jobs"
	FieldAnomalies  = "anomalies"
)

// FromStructOperationRequest maps a Train or Detect request into the domain request.
// job defaults to "all" and data_source to "logs".
func FromStructOperationRequest(s *structpb.Struct) (models.OperationRequest, error) {
	if s == nil {
		return models.OperationRequest{}, fmt.Errorf("request is nil")
	}
	fields := s.GetFields()
	req := models.OperationRequest{
		Job:     stringField(fields, FieldJob, models.AllJobs),
		Source:  models.DataSource(stringField(fields, FieldDataSource, string(models.DataSourceLogs))),
		LogName: stringField(fields, FieldLogName, ""),
	}
	switch req.Source {
	case models.DataSourceLogs, models.DataSourceRequest, models.DataSourceTestDataset:
	default:
		return models.OperationRequest{}, fmt.Errorf("unsupported data_source %q", req.Source)
	}

	if v, ok := fields[FieldMaxRecords]; ok {
		n := v.GetNumberValue()
		if n < 0 || n != math.Trunc(n) {
			return models.OperationRequest{}, fmt.Errorf("max_records must be a non-negative integer")
		}
		req.MaxRecords = int(n)
	}

	var err error
	if req.TimeRange.Start, err = timeField(fields, FieldStart); err != nil {
		return models.OperationRequest{}, err
	}
	if req.TimeRange.End, err = timeField(fields, FieldEnd); err != nil {
		return models.OperationRequest{}, err
	}
	if !req.TimeRange.Start.IsZero() && !req.TimeRange.End.IsZero() && !req.TimeRange.Start.Before(req.TimeRange.End) {
		return models.OperationRequest{}, fmt.Errorf("start must be before end")
	}

	if v, ok := fields[FieldRecords]; ok {
		list := v.GetListValue()
		if list == nil {
			return models.OperationRequest{}, fmt.Errorf("records must be a list")
		}
		for i, item := range list.GetValues() {
			obj := item.GetStructValue()
			if obj == nil {
				return models.OperationRequest{}, fmt.Errorf("records[%d] must be an object", i)
			}
			req.Data = append(req.Data, models.Record(obj.AsMap()))
		}
	}
	if req.Source == models.DataSourceRequest && len(req.Data) == 0 {
		return models.OperationRequest{}, fmt.Errorf("data_source request needs records")
	}
	return req, nil
}

// ToStructOperationRequest is the client-side inverse of FromStructOperationRequest.
func ToStructOperationRequest(req models.OperationRequest) (*structpb.Struct, error) {
	m := map[string]any{}
	if req.Job != "" {
		m[FieldJob] = req.Job
	}
	if req.Source != "" {
		m[FieldDataSource] = string(req.Source)
	}
	if req.LogName != "" {
		m[FieldLogName] = req.LogName
	}
	if req.MaxRecords > 0 {
		m[FieldMaxRecords] = req.MaxRecords
	}
	if !req.TimeRange.Start.IsZero() {
		m[FieldStart] = req.TimeRange.Start.UTC().Format(time.RFC3339)
	}
	if !req.TimeRange.End.IsZero() {
		m[FieldEnd] = req.TimeRange.End.UTC().Format(time.RFC3339)
	}
	if len(req.Data) > 0 {
		records := make([]any, 0, len(req.Data))
		for _, rec := range req.Data {
			records = append(records, sanitize(rec))
		}
		m[FieldRecords] = records
	}
	return structpb.NewStruct(m)
}

// ToStructAnomalies converts anomalies into the response shape. NaN and infinite
// values in the anomaly data are reported as 0.
func ToStructAnomalies(anomalies []models.Anomaly) (*structpb.Struct, error) {
	list := make([]any, 0, len(anomalies))
	for _, a := range anomalies {
		list = append(list, map[string]any{
			"job":         a.Job,
			"time":        a.Time.Unix(),
			"description": a.Description,
			"score":       finite(a.Score),
			"confidence":  finite(a.Confidence),
			"data":        sanitize(a.Data),
		})
	}
	return structpb.NewStruct(map[string]any{FieldAnomalies: list})
}

// ToStructTaskStatus acknowledges queued work.
func ToStructTaskStatus(st models.TaskStatus) (*structpb.Struct, error) {
	names := make([]any, 0, len(st.Jobs))
	for _, name := range st.Jobs {
		names = append(names, name)
	}
	return structpb.NewStruct(map[string]any{
		"task_id": st.TaskID,
		"status":  st.Status,
		FieldJobs: names,
	})
}

// ToStructJSON converts any JSON-encodable value whose top level is an object.
func ToStructJSON(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// FromStructID reads the self-diagnostics id, defaulting to "-1" (the latest result).
func FromStructID(s *structpb.Struct) string {
	return stringField(s.GetFields(), FieldID, "-1")
}

// FromStructJobName reads the optional job name of a parameters query.
func FromStructJobName(s *structpb.Struct) string {
	return stringField(s.GetFields(), FieldJob, "")
}

// FromStructParamUpdate maps a SetParameters request into a registry update.
func FromStructParamUpdate(s *structpb.Struct) (jobs.ParamUpdate, error) {
	if s == nil {
		return jobs.ParamUpdate{}, fmt.Errorf("request is nil")
	}
	fields := s.GetFields()
	name := stringField(fields, FieldJob, "")
	if name == "" || name == models.AllJobs {
		return jobs.ParamUpdate{}, fmt.Errorf("job is required")
	}
	params := fields[FieldParams].GetStructValue()
	if params == nil || len(params.GetFields()) == 0 {
		return jobs.ParamUpdate{}, fmt.Errorf("params must be a non-empty object")
	}
	return jobs.ParamUpdate{Job: name, Params: params.AsMap()}, nil
}

// ToStructParams renders job parameters as {"jobs": [{"job", "params"}]} in name order.
func ToStructParams(byJob map[string]map[string]any) (*structpb.Struct, error) {
	names := make([]string, 0, len(byJob))
	for name := range byJob {
		names = append(names, name)
	}
	sort.Strings(names)
	list := make([]any, 0, len(names))
	for _, name := range names {
		list = append(list, map[string]any{
			FieldJob:    name,
			FieldParams: sanitize(byJob[name]),
		})
	}
	return structpb.NewStruct(map[string]any{FieldJobs: list})
}

func stringField(fields map[string]*structpb.Value, key, def string) string {
	v, ok := fields[key]
	if !ok {
		return def
	}
	s := strings.TrimSpace(v.GetStringValue())
	if s == "" {
		return def
	}
	return s
}

func timeField(fields map[string]*structpb.Value, key string) (time.Time, error) {
	raw := stringField(fields, key, "")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := utils.ParseRFC3339(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", key, err)
	}
	return t, nil
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// sanitize turns arbitrary record values into types structpb accepts.
func sanitize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, int32, int64, uint32, uint64:
		return x
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return finite(f)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case models.Record:
		return sanitize(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = sanitize(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = sanitize(item)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = item
		}
		return out
	}
	return fmt.Sprint(v)
}
