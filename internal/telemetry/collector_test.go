package telemetry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/aggregate"
	"github.com/miradorstack/mirador-hotspots/internal/jobs"
	"github.com/miradorstack/mirador-hotspots/internal/models"
	"github.com/miradorstack/mirador-hotspots/internal/repo"
)

type stubScroller struct {
	pages   map[string][][]models.Record
	queries []string
	err     error
}

func (s *stubScroller) Scroll(_ context.Context, index string, q repo.SearchQuery, onPage func([]models.Record) error) (int, error) {
	s.queries = append(s.queries, index)
	if s.err != nil {
		return 0, s.err
	}
	total := 0
	for log, pages := range s.pages {
		if !strings.Contains(index, "_"+log+".") {
			continue
		}
		for _, p := range pages {
			if err := onPage(p); err != nil {
				return total, err
			}
			total += len(p)
		}
	}
	return total, nil
}

func flow(start float64, name string, bytesOut, bytesIn float64) models.Record {
	return models.Record{
		"start_time":        start,
		"source_namespace":  "shop",
		"source_name_aggr":  name,
		"dest_namespace":    "shop",
		"dest_service_name": "db",
		"dest_ip":           "10.0.0.1",
		"dest_port":         5432.0,
		"bytes_out":         bytesOut,
		"bytes_in":          bytesIn,
	}
}

func TestFetchMergesFlowPagesAndPassesOtherLogs(t *testing.T) {
	scroller := &stubScroller{pages: map[string][][]models.Record{
		models.LogFlows: {
			{flow(0, "cart", 10, 1), flow(30, "cart", 5, 1)},
			{flow(60, "cart", 7, 2)},
		},
		models.LogL7: {
			{{"start_time": 0.0, "duration_mean": 1200.0}},
		},
	}}
	collector := NewCollector(nil, scroller, aggregate.New(nil, 5), Options{IndexPrefix: "tigera_secure_ee", Cluster: "cluster"})

	ds, err := collector.Fetch(context.Background(), models.FetchRequest{
		Jobs:  jobs.DefaultTable(),
		Start: time.Unix(0, 0),
		End:   time.Unix(600, 0),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(scroller.queries) != 3 {
		t.Fatalf("expected one scroll per log, got %v", scroller.queries)
	}
	if scroller.queries[0] != "tigera_secure_ee_l7.cluster.*" {
		t.Fatalf("unexpected first index: %s", scroller.queries[0])
	}

	source := ds.Type(models.DataTypeSource)
	if len(source) != 1 {
		t.Fatalf("expected one merged source row, got %d: %+v", len(source), source)
	}
	if v, _ := source[0].Float("bytes_out"); v != 22 {
		t.Fatalf("expected summed bytes_out 22, got %v", v)
	}
	dest := ds.Type(models.DataTypeDest)
	if len(dest) != 1 {
		t.Fatalf("expected one dest row, got %d", len(dest))
	}
	if v, _ := dest[0].Float("bytes_in"); v != 4 {
		t.Fatalf("expected summed bytes_in 4, got %v", v)
	}
	if got := len(ds.Type(models.DataTypeFlows)); got != 3 {
		t.Fatalf("expected raw flows kept, got %d", got)
	}
	if got := len(ds.Type(models.DataTypeL7)); got != 1 {
		t.Fatalf("expected l7 passthrough, got %d", got)
	}
}

func TestFetchReturnsSourceErrors(t *testing.T) {
	scroller := &stubScroller{err: errors.New("cluster unavailable")}
	collector := NewCollector(nil, scroller, aggregate.New(nil, 5), Options{})
	if _, err := collector.Fetch(context.Background(), models.FetchRequest{Jobs: jobs.DefaultTable()}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAssembleShapesRequestRecords(t *testing.T) {
	collector := NewCollector(nil, nil, aggregate.New(nil, 5), Options{})
	table := jobs.DefaultTable()
	var bytesIn models.Job
	for _, j := range table {
		if j.Name == "bytes_in" {
			bytesIn = j
		}
	}
	ds := collector.Assemble([]models.Job{bytesIn}, []models.Record{flow(0, "cart", 1, 3), flow(10, "web", 1, 4)})
	rows := ds.For(bytesIn)
	if len(rows) != 1 {
		t.Fatalf("expected one dest row, got %d", len(rows))
	}
	if v, _ := rows[0].Float("bytes_in"); v != 7 {
		t.Fatalf("expected 7, got %v", v)
	}
}
