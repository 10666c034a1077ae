package models

import "time"

// DataSource selects where an operation request takes its samples from.
type DataSource string

const (
	DataSourceLogs        DataSource = "logs"
	DataSourceRequest     DataSource = "request"
	DataSourceTestDataset DataSource = "test_dataset"
)

// OperationRequest is a train or detect call from the operation surface.
type OperationRequest struct {
	Job        string
	Source     DataSource
	LogName    string
	Data       []Record
	MaxRecords int
	TimeRange  TimeRange
}

// TimeRange bounds the telemetry window for a request. Zero values fall back to defaults.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// TaskStatus acknowledges queued background work.
type TaskStatus struct {
	TaskID string
	Status string
	Jobs   []string
}

// FetchRequest asks a sample source for the telemetry a set of jobs needs in [Start, End).
type FetchRequest struct {
	Jobs    []Job
	Start   time.Time
	End     time.Time
	MaxDocs int
}
