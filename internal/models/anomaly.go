package models

import "time"

// Anomaly is a model-flagged sample formatted for alerting.
type Anomaly struct {
	Job         string    `json:"job"`
	Description string    `json:"description"`
	Time        time.Time `json:"time"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	Data        Record    `json:"data"`
}

// AggregatorStats summarises the training distribution of a job's value field.
type AggregatorStats struct {
	Count float64 `json:"count" cbor:"count"`
	Sum   float64 `json:"sum" cbor:"sum"`
	Min   float64 `json:"min" cbor:"min"`
	Mean  float64 `json:"mean" cbor:"mean"`
	Max   float64 `json:"max" cbor:"max"`
	Std   float64 `json:"std" cbor:"std"`
}

// AlertDocument is the document shape accepted by the alert sink.
type AlertDocument struct {
	Type        string `json:"type"`
	Alert       string `json:"alert"`
	Severity    int    `json:"severity"`
	Record      Record `json:"record"`
	Description string `json:"description"`
	Time        int64  `json:"time"`
}

// AlertSeverity is the fixed severity attached to detection alerts.
const AlertSeverity = 100

// NewAlertDocument wraps an anomaly in the sink document envelope.
func NewAlertDocument(a Anomaly) AlertDocument {
	return AlertDocument{
		Type:        "alert",
		Alert:       "anomaly_detection." + a.Job,
		Severity:    AlertSeverity,
		Record:      a.Data.Clone(),
		Description: a.Description,
		Time:        a.Time.Unix(),
	}
}
