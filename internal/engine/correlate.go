package engine

import (
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// CorrelationRule keeps volume anomalies only when an anomaly of the aggregate
// job falls inside their bucket.
type CorrelationRule struct {
	Aggregate string
	Volume    []string
}

// DefaultCorrelations pairs process traffic with the byte volume jobs.
func DefaultCorrelations() []CorrelationRule {
	return []CorrelationRule{{Aggregate: "process_bytes", Volume: []string{"bytes_in", "bytes_out"}}}
}

// Correlate flattens per-job anomalies in order and applies rules. A volume
// anomaly survives only when an aggregate anomaly starts within
// [start_time, end_time) of its bucket; it then carries the aggregate record
// and a description rebuilt from it. Aggregate anomalies are dropped. A rule
// only applies when order holds its aggregate job and at least one of its
// volume jobs; jobs named by no applicable rule pass through unchanged.
func Correlate(perJob map[string][]models.Anomaly, order []models.Job, rules []CorrelationRule) []models.Anomaly {
	present := make(map[string]bool, len(order))
	for _, job := range order {
		present[job.Name] = true
	}
	aggregates := map[string]bool{}
	volume := map[string]string{}
	for _, r := range rules {
		if !applies(r, present) {
			continue
		}
		aggregates[r.Aggregate] = true
		for _, v := range r.Volume {
			volume[v] = r.Aggregate
		}
	}

	var out []models.Anomaly
	for _, job := range order {
		if aggregates[job.Name] {
			continue
		}
		agg, isVolume := volume[job.Name]
		for _, a := range perJob[job.Name] {
			if !isVolume {
				out = append(out, a)
				continue
			}
			match, ok := within(a.Data, perJob[agg])
			if !ok {
				continue
			}
			a.Data = match.Data.Clone()
			a.Description = Describe(job, a.Data, match.Confidence, nil)
			out = append(out, a)
		}
	}
	return out
}

func applies(r CorrelationRule, present map[string]bool) bool {
	if !present[r.Aggregate] {
		return false
	}
	for _, v := range r.Volume {
		if present[v] {
			return true
		}
	}
	return false
}

func within(bucket models.Record, candidates []models.Anomaly) (models.Anomaly, bool) {
	start, ok := utils.ParseRecordTime(bucket["start_time"])
	if !ok {
		return models.Anomaly{}, false
	}
	end, ok := utils.ParseRecordTime(bucket["end_time"])
	if !ok {
		return models.Anomaly{}, false
	}
	for _, c := range candidates {
		ts, ok := utils.ParseRecordTime(c.Data["start_time"])
		if !ok {
			continue
		}
		if !ts.Before(start) && ts.Before(end) {
			return c, true
		}
	}
	return models.Anomaly{}, false
}
