package models

// DataType names the sample set a job consumes.
type DataType string

const (
	// DataTypeFlows is raw flow telemetry.
	DataTypeFlows DataType = "flows"
	// DataTypeSource is flow telemetry bucketed per source entity.
	DataTypeSource DataType = "source"
	// DataTypeDest is flow telemetry bucketed per destination service.
	DataTypeDest DataType = "dest"
	// DataTypeL7 is raw L7 request telemetry.
	DataTypeL7 DataType = "l7"
	// DataTypeDNS is raw DNS query telemetry.
	DataTypeDNS DataType = "dns"
)

// Telemetry logs served by the telemetry source.
const (
	LogFlows = "flows"
	LogL7    = "l7"
	LogDNS   = "dns"
)

// AllJobs selects every enabled job in operation requests.
const AllJobs = "all"

// Job describes one independently configured anomaly detection unit.
type Job struct {
	Name        string
	ModelID     string
	DataType    DataType
	SourceLog   string
	GroupFields []string
	ValueFields []string
	Tolerance   float64
	Dynamic     bool
	Params      map[string]any

	// Alert wording.
	NamespaceField string
	EntityField    string
	Subject        string
	Unit           string
	ValueDivisor   float64
}

// AlertName is the alert identifier used in descriptions and sink documents.
func (j Job) AlertName() string {
	return "anomaly_detection." + j.Name
}

// Clone returns a deep copy so callers can never mutate registry state.
func (j Job) Clone() Job {
	out := j
	out.GroupFields = append([]string(nil), j.GroupFields...)
	out.ValueFields = append([]string(nil), j.ValueFields...)
	out.Params = make(map[string]any, len(j.Params))
	for k, v := range j.Params {
		out.Params[k] = v
	}
	return out
}
