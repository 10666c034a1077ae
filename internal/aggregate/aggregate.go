// Package aggregate folds raw flow telemetry into fixed time buckets per source
// entity and per destination service.
package aggregate

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/utils"
)

// SourceRow is one bucket of traffic sent by a source entity.
type SourceRow struct {
	Start           time.Time
	End             time.Time
	Namespace       string
	Name            string
	UniqueDestIPs   float64
	UniqueDestPorts float64
	BytesOut        float64
}

// DestRow is one bucket of traffic received by a destination service.
type DestRow struct {
	Start     time.Time
	End       time.Time
	Namespace string
	Name      string
	BytesIn   float64
}

// Record flattens the row into the sample shape consumed by detectors.
func (r SourceRow) Record() models.Record {
	return models.Record{
		"start_time":              utils.FormatBucketTime(r.Start),
		"end_time":                utils.FormatBucketTime(r.End),
		"source_namespace":        r.Namespace,
		"source_name_aggr":        r.Name,
		"unique_dest_ip_number":   r.UniqueDestIPs,
		"unique_dest_port_number": r.UniqueDestPorts,
		"bytes_out":               r.BytesOut,
	}
}

// Record flattens the row into the sample shape consumed by detectors.
func (r DestRow) Record() models.Record {
	return models.Record{
		"start_time":        utils.FormatBucketTime(r.Start),
		"end_time":          utils.FormatBucketTime(r.End),
		"dest_namespace":    r.Namespace,
		"dest_service_name": r.Name,
		"bytes_in":          r.BytesIn,
	}
}

// SourceRecords flattens source rows.
func SourceRecords(rows []SourceRow) []models.Record {
	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Record())
	}
	return out
}

// DestRecords flattens dest rows.
func DestRecords(rows []DestRow) []models.Record {
	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Record())
	}
	return out
}

// Aggregator buckets flow records.
type Aggregator struct {
	logger *slog.Logger
	bucket int64
}

// New returns an Aggregator with buckets of bucketMinutes width.
func New(logger *slog.Logger, bucketMinutes int) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if bucketMinutes <= 0 {
		bucketMinutes = 5
	}
	return &Aggregator{logger: logger, bucket: int64(bucketMinutes) * 60}
}

// BucketSize returns the bucket width.
func (a *Aggregator) BucketSize() time.Duration {
	return time.Duration(a.bucket) * time.Second
}

type sourceAcc struct {
	namespace string
	ips       map[string]struct{}
	ports     map[string]struct{}
	bytesOut  float64
}

type destAcc struct {
	namespace string
	bytesIn   float64
}

type flowRecord struct {
	start float64
	rec   models.Record
}

// Aggregate sorts records by start_time and folds them into source and dest rows.
// Records without a numeric start_time are skipped.
func (a *Aggregator) Aggregate(records []models.Record) ([]SourceRow, []DestRow) {
	flows := make([]flowRecord, 0, len(records))
	skipped := 0
	for _, rec := range records {
		start, ok := rec.Float("start_time")
		if !ok || math.IsNaN(start) {
			skipped++
			continue
		}
		flows = append(flows, flowRecord{start: start, rec: rec})
	}
	if skipped > 0 {
		a.logger.Warn("flow records without start_time skipped", slog.Int("count", skipped))
	}
	sort.SliceStable(flows, func(i, j int) bool { return flows[i].start < flows[j].start })
	return a.fold(flows)
}

// fold walks records in their given order. Callers sort first; a record older
// than the open bucket is reported and dropped without touching the bucket.
func (a *Aggregator) fold(flows []flowRecord) ([]SourceRow, []DestRow) {
	var (
		sourceRows []SourceRow
		destRows   []DestRow
	)
	if len(flows) == 0 {
		return sourceRows, destRows
	}

	bucketStart := a.floor(flows[0].start)
	sources := map[string]*sourceAcc{}
	dests := map[string]*destAcc{}

	flush := func() {
		start := time.Unix(bucketStart, 0).UTC()
		end := start.Add(a.BucketSize())
		for _, name := range sortedKeys(sources) {
			acc := sources[name]
			sourceRows = append(sourceRows, SourceRow{
				Start:           start,
				End:             end,
				Namespace:       acc.namespace,
				Name:            name,
				UniqueDestIPs:   float64(len(acc.ips)),
				UniqueDestPorts: float64(len(acc.ports)),
				BytesOut:        acc.bytesOut,
			})
		}
		for _, name := range sortedKeys(dests) {
			acc := dests[name]
			destRows = append(destRows, DestRow{Start: start, End: end, Namespace: acc.namespace, Name: name, BytesIn: acc.bytesIn})
		}
		sources = map[string]*sourceAcc{}
		dests = map[string]*destAcc{}
	}

	for _, flow := range flows {
		if flow.start < float64(bucketStart) {
			a.logger.Error("out of order flow record",
				slog.Float64("start_time", flow.start),
				slog.Int64("bucket_start", bucketStart))
			continue
		}
		if flow.start >= float64(bucketStart+a.bucket) {
			flush()
			bucketStart = a.floor(flow.start)
		}
		a.foldRecord(flow.rec, sources, dests)
	}
	flush()
	return sourceRows, destRows
}

func (a *Aggregator) foldRecord(rec models.Record, sources map[string]*sourceAcc, dests map[string]*destAcc) {
	if name := rec.String("source_name_aggr"); name != "" {
		acc, ok := sources[name]
		if !ok {
			acc = &sourceAcc{namespace: rec.String("source_namespace"), ips: map[string]struct{}{}, ports: map[string]struct{}{}}
			sources[name] = acc
		}
		if ip := rec.String("dest_ip"); ip != "" {
			acc.ips[ip] = struct{}{}
		}
		if port := rec.String("dest_port"); port != "" {
			acc.ports[port] = struct{}{}
		}
		if v, ok := rec.Float("bytes_out"); ok {
			acc.bytesOut += v
		}
	}
	if name := rec.String("dest_service_name"); name != "" && name != "-" {
		acc, ok := dests[name]
		if !ok {
			acc = &destAcc{namespace: rec.String("dest_namespace")}
			dests[name] = acc
		}
		if v, ok := rec.Float("bytes_in"); ok {
			acc.bytesIn += v
		}
	}
}

func (a *Aggregator) floor(start float64) int64 {
	s := int64(math.Floor(start))
	return s - mod(s, a.bucket)
}

func mod(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
