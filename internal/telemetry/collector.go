// Package telemetry pulls raw telemetry from the search cluster and shapes it into per-job sample sets.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/aggregate"
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/repo"
)

// Scroller is the slice of the search client the collector needs.
type Scroller interface {
	Scroll(ctx context.Context, index string, q repo.SearchQuery, onPage func([]models.Record) error) (int, error)
}

// Options locates telemetry indices and bounds retrieval.
type Options struct {
	IndexPrefix string
	Cluster     string
	PageSize    int
	ScrollTTL   time.Duration
	MaxDocs     int
}

// Collector fetches each telemetry log the requested jobs read from.
type Collector struct {
	logger     *slog.Logger
	scroller   Scroller
	aggregator *aggregate.Aggregator
	opts       Options
}

// NewCollector wires a collector over scroller.
func NewCollector(logger *slog.Logger, scroller Scroller, aggregator *aggregate.Aggregator, opts Options) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{logger: logger, scroller: scroller, aggregator: aggregator, opts: opts}
}

// Fetch implements the pipeline sample source. Flow telemetry is aggregated page by page and
// re-merged so a bucket split across pages yields one row.
func (c *Collector) Fetch(ctx context.Context, req models.FetchRequest) (*models.DataSet, error) {
	maxDocs := req.MaxDocs
	if maxDocs <= 0 {
		maxDocs = c.opts.MaxDocs
	}
	ds := models.NewDataSet()
	for _, log := range Logs(req.Jobs) {
		index := repo.IndexName(c.opts.IndexPrefix, log, c.opts.Cluster)
		query := repo.SearchQuery{
			Start:    req.Start,
			End:      req.End,
			PageSize: c.opts.PageSize,
			Scroll:   c.opts.ScrollTTL,
			MaxDocs:  maxDocs,
		}
		shaper := c.newShaper(log)
		n, err := c.scroller.Scroll(ctx, index, query, shaper.page)
		if err != nil {
			return nil, fmt.Errorf("fetch %s telemetry: %w", log, err)
		}
		shaper.finish(ds)
		c.logger.Info("telemetry fetched",
			slog.String("log", log),
			slog.String("index", index),
			slog.Int("records", n),
			slog.Time("start", req.Start),
			slog.Time("end", req.End),
		)
	}
	return ds, nil
}

// Assemble shapes caller-supplied records as if they had been fetched from every log the jobs read.
func (c *Collector) Assemble(jobs []models.Job, records []models.Record) *models.DataSet {
	ds := models.NewDataSet()
	for _, log := range Logs(jobs) {
		shaper := c.newShaper(log)
		_ = shaper.page(records)
		shaper.finish(ds)
	}
	return ds
}

// Logs lists the distinct source logs of jobs in first-seen order.
func Logs(jobs []models.Job) []string {
	seen := map[string]bool{}
	var logs []string
	for _, job := range jobs {
		if job.SourceLog == "" || seen[job.SourceLog] {
			continue
		}
		seen[job.SourceLog] = true
		logs = append(logs, job.SourceLog)
	}
	return logs
}

type shaper struct {
	log        string
	aggregator *aggregate.Aggregator
	raw        []models.Record
	source     []aggregate.SourceRow
	dest       []aggregate.DestRow
}

func (c *Collector) newShaper(log string) *shaper {
	return &shaper{log: log, aggregator: c.aggregator}
}

func (s *shaper) page(records []models.Record) error {
	s.raw = append(s.raw, records...)
	if s.log == models.LogFlows {
		src, dst := s.aggregator.Aggregate(records)
		s.source = append(s.source, src...)
		s.dest = append(s.dest, dst...)
	}
	return nil
}

func (s *shaper) finish(ds *models.DataSet) {
	switch s.log {
	case models.LogFlows:
		source, dest := aggregate.Merge(s.source, s.dest)
		ds.Add(models.DataTypeFlows, s.raw)
		ds.Add(models.DataTypeSource, aggregate.SourceRecords(source))
		ds.Add(models.DataTypeDest, aggregate.DestRecords(dest))
	case models.LogL7:
		ds.Add(models.DataTypeL7, s.raw)
	case models.LogDNS:
		ds.Add(models.DataTypeDNS, s.raw)
	default:
		ds.Add(models.DataType(s.log), s.raw)
	}
}
