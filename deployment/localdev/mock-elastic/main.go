package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

// Serves just enough of the search API for the engine to run locally: scroll
// searches over synthetic flows/l7/dns telemetry and alert document creation.

var (
	namespaces = []string{"shop", "payments", "kube-system"}
	services   = []string{"checkout", "cart", "ledger", "coredns"}
)

type searchBody struct {
	Size  int `json:"size"`
	Query struct {
		Range map[string]struct {
			Gte string `json:"gte"`
			Lt  string `json:"lt"`
		} `json:"range"`
	} `json:"query"`
}

func main() {
	addr := flag.String("addr", ":9200", "listen address")
	spikeEvery := flag.Int("spike-every", 97, "emit an outlier every N documents")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With(slog.String("component", "elastic-mock"))

	mux := http.NewServeMux()
	mux.HandleFunc("/_search/scroll", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			// Every search fits in its first page.
			writeJSON(w, http.StatusOK, map[string]any{"_scroll_id": "", "hits": map[string]any{"hits": []any{}}})
		case http.MethodDelete:
			writeJSON(w, http.StatusOK, map[string]any{"succeeded": true})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/":
			writeJSON(w, http.StatusOK, map[string]any{"tagline": "You Know, for Search"})
		case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "_search":
			search(w, r, logger, parts[0], *spikeEvery)
		case r.Method == http.MethodPut && len(parts) == 3 && parts[1] == "_create":
			var doc map[string]any
			if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			logger.Info("alert received", slog.String("index", parts[0]), slog.Any("description", doc["description"]))
			writeJSON(w, http.StatusCreated, map[string]any{"_id": parts[2], "result": "created"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func search(w http.ResponseWriter, r *http.Request, logger *slog.Logger, index string, spikeEvery int) {
	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	end := time.Now().UTC()
	start := end.Add(-30 * time.Minute)
	if rng, ok := body.Query.Range["@timestamp"]; ok {
		if t, err := time.Parse(time.RFC3339, rng.Gte); err == nil {
			start = t
		}
		if t, err := time.Parse(time.RFC3339, rng.Lt); err == nil {
			end = t
		}
	}
	if end.Sub(start) > 6*time.Hour {
		start = end.Add(-6 * time.Hour)
	}

	log := logName(index)
	if log == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "index_not_found_exception"})
		return
	}
	size := body.Size
	if size <= 0 {
		size = 10000
	}
	var hits []map[string]any
	for ts := start; ts.Before(end) && len(hits) < size; ts = ts.Add(15 * time.Second) {
		spike := spikeEvery > 0 && len(hits)%spikeEvery == spikeEvery-1
		hits = append(hits, map[string]any{"_source": document(log, ts, spike)})
	}
	logger.Info("search served", slog.String("index", index), slog.Int("hits", len(hits)))
	writeJSON(w, http.StatusOK, map[string]any{
		"_scroll_id": fmt.Sprintf("scroll-%d", time.Now().UnixNano()),
		"hits":       map[string]any{"hits": hits},
	})
}

// logName maps "<prefix>_<log>.<cluster>.*" to the log name.
func logName(index string) string {
	for _, log := range []string{"flows", "l7", "dns"} {
		if strings.Contains(index, "_"+log+".") {
			return log
		}
	}
	return ""
}

func document(log string, ts time.Time, spike bool) map[string]any {
	ns := namespaces[rand.Intn(len(namespaces))]
	svc := services[rand.Intn(len(services))]
	scale := 1.0
	if spike {
		scale = 40
	}
	start := ts.Unix()
	switch log {
	case "flows":
		return map[string]any{
			"@timestamp":        ts.Format(time.RFC3339),
			"start_time":        start,
			"end_time":          start + 15,
			"source_namespace":  ns,
			"source_name_aggr":  svc + "-*",
			"dest_namespace":    namespaces[rand.Intn(len(namespaces))],
			"dest_service_name": services[rand.Intn(len(services))],
			"dest_ip":           fmt.Sprintf("10.0.0.%d", rand.Intn(20)),
			"dest_port":         []int{80, 443, 5432, 53}[rand.Intn(4)],
			"process_name":      "/usr/bin/" + svc,
			"bytes_in":          (2000 + rand.Float64()*500) * scale,
			"bytes_out":         (1500 + rand.Float64()*400) * scale,
		}
	case "l7":
		return map[string]any{
			"@timestamp":        ts.Format(time.RFC3339),
			"start_time":        start,
			"end_time":          start + 15,
			"src_namespace":     ns,
			"src_name_aggr":     svc + "-*",
			"dest_namespace":    namespaces[rand.Intn(len(namespaces))],
			"dest_name_aggr":    services[rand.Intn(len(services))] + "-*",
			"dest_service_name": services[rand.Intn(len(services))],
			"duration_mean":     (20000 + rand.Float64()*5000) * scale,
		}
	default:
		return map[string]any{
			"@timestamp":       ts.Format(time.RFC3339),
			"start_time":       start,
			"end_time":         start + 15,
			"client_namespace": ns,
			"client_name_aggr": svc + "-*",
			"qname":            svc + "." + ns + ".svc.cluster.local",
			"latency_mean":     (2000 + rand.Float64()*300) * scale * scale,
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("took", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
