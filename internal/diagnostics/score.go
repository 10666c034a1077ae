package diagnostics

import (
	"math"
	"strings"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

// Result values.
const (
	ResultSuccess = "Success"
	ResultFailure = "Failure"
)

// JobScore compares detected anomalies with the labelled ones for a job.
type JobScore struct {
	TP        int     `json:"tp"`
	FP        int     `json:"fp"`
	FN        int     `json:"fn"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Tolerance float64 `json:"f1_tolerance"`
	Result    string  `json:"result"`
}

// Key identifies a record by its job's group fields.
func Key(rec models.Record, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = rec.String(f)
	}
	return strings.Join(parts, "|")
}

// Score computes precision, recall and F1 of detected against expected, keyed by job's group fields.
// A ratio with a zero denominator is 1 when nothing was expected or detected, otherwise 0.
func Score(job models.Job, expected []models.Record, detected []models.Anomaly) JobScore {
	want := map[string]bool{}
	for _, rec := range expected {
		want[Key(rec, job.GroupFields)] = true
	}
	got := map[string]bool{}
	for _, a := range detected {
		got[Key(a.Data, job.GroupFields)] = true
	}

	var s JobScore
	for k := range got {
		if want[k] {
			s.TP++
		} else {
			s.FP++
		}
	}
	for k := range want {
		if !got[k] {
			s.FN++
		}
	}
	empty := s.TP+s.FP+s.FN == 0
	s.Precision = ratio(s.TP, s.TP+s.FP, empty)
	s.Recall = ratio(s.TP, s.TP+s.FN, empty)
	s.F1 = ratio(2*s.TP, 2*s.TP+s.FP+s.FN, empty)
	s.Tolerance = job.Tolerance
	s.Result = ResultFailure
	if s.F1 >= job.Tolerance {
		s.Result = ResultSuccess
	}
	return s
}

func ratio(num, den int, empty bool) float64 {
	if den == 0 {
		if empty {
			return 1
		}
		return 0
	}
	return math.Round(float64(num)/float64(den)*1000) / 1000
}
