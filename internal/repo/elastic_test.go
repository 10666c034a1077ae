package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-hotspots/internal/models"
)

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func hitsPage(scrollID string, docs ...map[string]any) map[string]any {
	hits := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, map[string]any{"_source": d})
	}
	return map[string]any{"_scroll_id": scrollID, "hits": map[string]any{"hits": hits}}
}

func newTestElastic(t *testing.T, rt roundTripFunc) *ElasticClient {
	t.Helper()
	client, err := NewElasticClient(ElasticOptions{URL: "https://es.example.com", Username: "elastic", Password: "secret", EventsIndex: "tigera_secure_ee_events.cluster"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.httpClient = newTestClient(rt)
	return client
}

func TestScrollPagesUntilExhausted(t *testing.T) {
	var calls []string
	cleared := false
	client := newTestElastic(t, func(req *http.Request) (*http.Response, error) {
		calls = append(calls, req.Method+" "+req.URL.Path)
		if user, pass, ok := req.BasicAuth(); !ok || user != "elastic" || pass != "secret" {
			t.Fatalf("missing basic auth")
		}
		switch {
		case req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, "/_search") && req.URL.Path != "/_search":
			if req.URL.Query().Get("scroll") != "20s" {
				t.Fatalf("unexpected scroll keep-alive: %s", req.URL.RawQuery)
			}
			var body map[string]any
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				t.Fatalf("decode search body: %v", err)
			}
			rng := body["query"].(map[string]any)["range"].(map[string]any)[TimestampField].(map[string]any)
			if rng["gte"] != "2024-06-01T10:00:00Z" || rng["lt"] != "2024-06-01T10:30:00Z" {
				t.Fatalf("unexpected range: %+v", rng)
			}
			return jsonResponse(t, http.StatusOK, hitsPage("s1", map[string]any{"n": 1}, map[string]any{"n": 2})), nil
		case req.Method == http.MethodPost && req.URL.Path == "/_search/scroll":
			if len(calls) == 2 {
				return jsonResponse(t, http.StatusOK, hitsPage("s1", map[string]any{"n": 3})), nil
			}
			return jsonResponse(t, http.StatusOK, hitsPage("s1")), nil
		case req.Method == http.MethodDelete:
			cleared = true
			return jsonResponse(t, http.StatusOK, map[string]any{"succeeded": true}), nil
		}
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
		return nil, nil
	})

	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	var got []models.Record
	n, err := client.Scroll(context.Background(), IndexName("tigera_secure_ee", models.LogFlows, "cluster"), SearchQuery{
		Start: start, End: start.Add(30 * time.Minute), PageSize: 2,
	}, func(page []models.Record) error {
		got = append(got, page...)
		return nil
	})
	if err != nil {
		t.Fatalf("scroll: %v", err)
	}
	if n != 3 || len(got) != 3 {
		t.Fatalf("expected 3 records, got n=%d len=%d", n, len(got))
	}
	if v, _ := got[2].Float("n"); v != 3 {
		t.Fatalf("unexpected last record: %+v", got[2])
	}
	if !cleared {
		t.Fatalf("expected scroll to be cleared")
	}
	if calls[0] != "POST /tigera_secure_ee_flows.cluster.*/_search" {
		t.Fatalf("unexpected first call: %s", calls[0])
	}
}

func TestScrollStopsAtMaxDocs(t *testing.T) {
	scrolls := 0
	client := newTestElastic(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/_search/scroll" && req.Method == http.MethodPost {
			scrolls++
		}
		return jsonResponse(t, http.StatusOK, hitsPage("s1", map[string]any{"n": 1}, map[string]any{"n": 2}, map[string]any{"n": 3})), nil
	})
	var got int
	n, err := client.Scroll(context.Background(), "idx", SearchQuery{MaxDocs: 2}, func(page []models.Record) error {
		got += len(page)
		return nil
	})
	if err != nil || n != 2 || got != 2 {
		t.Fatalf("expected truncation at 2, got n=%d got=%d err=%v", n, got, err)
	}
	if scrolls != 0 {
		t.Fatalf("expected no follow-up scroll, got %d", scrolls)
	}
}

func TestScrollMissingIndexYieldsNothing(t *testing.T) {
	client := newTestElastic(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusNotFound, map[string]any{"error": "index_not_found_exception"}), nil
	})
	n, err := client.Scroll(context.Background(), "missing", SearchQuery{}, func([]models.Record) error {
		t.Fatalf("onPage must not be called")
		return nil
	})
	if err != nil || n != 0 {
		t.Fatalf("expected zero records, got n=%d err=%v", n, err)
	}
}

func TestScrollPropagatesServerErrors(t *testing.T) {
	client := newTestElastic(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusInternalServerError, map[string]any{"error": "boom"}), nil
	})
	if _, err := client.Scroll(context.Background(), "idx", SearchQuery{}, func([]models.Record) error { return nil }); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteAlertCreatesDocument(t *testing.T) {
	client := newTestElastic(t, func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPut || req.URL.Path != "/tigera_secure_ee_events.cluster/_create/alert-1" {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		var doc models.AlertDocument
		if err := json.NewDecoder(req.Body).Decode(&doc); err != nil {
			t.Fatalf("decode doc: %v", err)
		}
		if doc.Alert != "anomaly_detection.bytes_in" || doc.Severity != models.AlertSeverity {
			t.Fatalf("unexpected doc: %+v", doc)
		}
		return jsonResponse(t, http.StatusCreated, map[string]any{"result": "created"}), nil
	})
	client.newID = func() string { return "alert-1" }

	doc := models.NewAlertDocument(models.Anomaly{Job: "bytes_in", Time: time.Unix(1_700_000_000, 0)})
	if err := client.WriteAlert(context.Background(), doc); err != nil {
		t.Fatalf("write alert: %v", err)
	}
}

func TestWriteAlertMissingIndexIsAnError(t *testing.T) {
	client := newTestElastic(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusNotFound, map[string]any{"error": "index_not_found_exception"}), nil
	})
	client.newID = func() string { return "alert-1" }

	doc := models.NewAlertDocument(models.Anomaly{Job: "bytes_in", Time: time.Unix(1_700_000_000, 0)})
	if err := client.WriteAlert(context.Background(), doc); err == nil {
		t.Fatalf("expected an error when the events index is missing")
	}
}
