package aggregate

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

func flow(start float64, ns, name, destIP string, destPort int, bytesOut, bytesIn float64, destService string) models.Record {
	return models.Record{
		"start_time":        start,
		"end_time":          start + 60,
		"source_namespace":  ns,
		"source_name_aggr":  name,
		"dest_ip":           destIP,
		"dest_port":         destPort,
		"dest_namespace":    "backend",
		"dest_service_name": destService,
		"bytes_out":         bytesOut,
		"bytes_in":          bytesIn,
	}
}

func TestAggregateSplitsFiveMinuteBuckets(t *testing.T) {
	agg := New(nil, 5)
	records := []models.Record{
		flow(360, "shop", "checkout-*", "10.0.0.1", 443, 30, 0, ""),
		flow(0, "shop", "checkout-*", "10.0.0.1", 443, 10, 0, ""),
		flow(240, "shop", "checkout-*", "10.0.0.2", 443, 20, 0, ""),
	}

	source, dest := agg.Aggregate(records)
	if len(dest) != 0 {
		t.Fatalf("expected no dest rows, got %d", len(dest))
	}
	if len(source) != 2 {
		t.Fatalf("expected two buckets, got %d: %+v", len(source), source)
	}
	if !source[0].Start.Equal(time.Unix(0, 0)) || source[0].BytesOut != 30 {
		t.Fatalf("unexpected first bucket: %+v", source[0])
	}
	if !source[1].Start.Equal(time.Unix(300, 0)) || source[1].BytesOut != 30 {
		t.Fatalf("unexpected second bucket: %+v", source[1])
	}
	if source[0].UniqueDestIPs != 2 || source[0].UniqueDestPorts != 1 {
		t.Fatalf("unexpected distinct counts: %+v", source[0])
	}
	rec := source[1].Record()
	if rec["start_time"] != "1970-01-01 00:05:00" || rec["end_time"] != "1970-01-01 00:10:00" {
		t.Fatalf("unexpected row bounds: %v", rec)
	}
}

func TestAggregateDestRows(t *testing.T) {
	agg := New(nil, 5)
	source, dest := agg.Aggregate([]models.Record{
		flow(10, "shop", "checkout-*", "", 0, 1, 100, "payments"),
		flow(20, "shop", "cart-*", "", 0, 1, 50, "payments"),
		flow(30, "shop", "cart-*", "", 0, 1, 7, "-"),
	})
	if len(source) != 2 {
		t.Fatalf("expected two source rows, got %d", len(source))
	}
	if source[0].UniqueDestIPs != 0 {
		t.Fatalf("empty dest_ip must not count: %+v", source[0])
	}
	if len(dest) != 1 || dest[0].Name != "payments" || dest[0].BytesIn != 150 || dest[0].Namespace != "backend" {
		t.Fatalf("unexpected dest rows: %+v", dest)
	}
}

func TestMergeIsSplitInvariant(t *testing.T) {
	agg := New(nil, 5)
	records := []models.Record{
		flow(10, "shop", "checkout-*", "10.0.0.1", 443, 5, 1, "payments"),
		flow(200, "shop", "checkout-*", "10.0.0.1", 443, 7, 2, "payments"),
		flow(290, "shop", "cart-*", "10.0.0.3", 80, 11, 3, "payments"),
		flow(310, "shop", "checkout-*", "10.0.0.1", 443, 13, 4, "payments"),
		flow(900, "ops", "cron-*", "10.0.0.9", 22, 17, 5, "bastion"),
	}

	wholeSource, wholeDest := Merge(agg.Aggregate(records))

	var splitSource []SourceRow
	var splitDest []DestRow
	for _, page := range [][]models.Record{records[:2], records[2:4], records[4:]} {
		s, d := agg.Aggregate(page)
		splitSource = append(splitSource, s...)
		splitDest = append(splitDest, d...)
	}
	mergedSource, mergedDest := Merge(splitSource, splitDest)

	if len(mergedSource) != len(wholeSource) || len(mergedDest) != len(wholeDest) {
		t.Fatalf("row count mismatch: split %d/%d whole %d/%d", len(mergedSource), len(mergedDest), len(wholeSource), len(wholeDest))
	}
	for i := range wholeSource {
		if mergedSource[i].Name != wholeSource[i].Name || mergedSource[i].BytesOut != wholeSource[i].BytesOut || !mergedSource[i].Start.Equal(wholeSource[i].Start) {
			t.Fatalf("source row %d differs: %+v vs %+v", i, mergedSource[i], wholeSource[i])
		}
	}
	for i := range wholeDest {
		if mergedDest[i].BytesIn != wholeDest[i].BytesIn {
			t.Fatalf("dest row %d differs: %+v vs %+v", i, mergedDest[i], wholeDest[i])
		}
	}
	if wholeSource[1].Name != "checkout-*" || wholeSource[1].BytesOut != 12 {
		t.Fatalf("expected checkout first bucket to sum to 12, got %+v", wholeSource[1])
	}

	again, againDest := Merge(mergedSource, mergedDest)
	if len(again) != len(mergedSource) || len(againDest) != len(mergedDest) {
		t.Fatalf("merge is not idempotent")
	}
	for i := range again {
		if again[i] != mergedSource[i] {
			t.Fatalf("merge changed row %d: %+v vs %+v", i, again[i], mergedSource[i])
		}
	}
}

func TestFoldLogsOutOfOrderRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	agg := New(logger, 5)

	source, _ := agg.fold([]flowRecord{
		{start: 600, rec: flow(600, "shop", "checkout-*", "", 0, 10, 0, "")},
		{start: 100, rec: flow(100, "shop", "checkout-*", "", 0, 99, 0, "")},
		{start: 700, rec: flow(700, "shop", "checkout-*", "", 0, 5, 0, "")},
	})
	if len(source) != 1 || source[0].BytesOut != 15 {
		t.Fatalf("open bucket corrupted by out of order record: %+v", source)
	}
	if !strings.Contains(buf.String(), "out of order flow record") {
		t.Fatalf("expected out of order error log, got %q", buf.String())
	}
}

func TestAggregateEmpty(t *testing.T) {
	source, dest := New(nil, 5).Aggregate(nil)
	if len(source) != 0 || len(dest) != 0 {
		t.Fatalf("expected no rows")
	}
}
