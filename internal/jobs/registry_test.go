package jobs

import (
	"errors"
	"testing"
)

func TestListPreservesOrderAndFiltersDisabled(t *testing.T) {
	reg, err := NewRegistry(DefaultTable(), []string{"dns_latency"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := reg.List("bytes_in")
	want := []string{"l7_latency", "bytes_out", "process_bytes"}
	if len(got) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(got))
	}
	for i, job := range got {
		if job.Name != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], job.Name)
		}
	}
	if _, err := reg.Lookup("dns_latency"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected disabled job lookup to fail, got %v", err)
	}
}

func TestDynamicSkipsStaticJobs(t *testing.T) {
	reg, err := NewRegistry(DefaultTable(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, job := range reg.Dynamic() {
		if !job.Dynamic {
			t.Fatalf("static job %s returned by Dynamic", job.Name)
		}
		if job.Name == "dns_latency" {
			t.Fatalf("dns_latency is static")
		}
	}
}

func TestApplyUpdatesParamsWithoutTouchingIssuedCopies(t *testing.T) {
	reg, err := NewRegistry(DefaultTable(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before, _ := reg.Lookup("l7_latency")

	params, err := reg.Apply(ParamUpdate{Job: "l7_latency", Params: map[string]any{"score_threshold": "-0.9", "n_estimators": 50.0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if params["score_threshold"] != -0.9 || params["n_estimators"] != 50 {
		t.Fatalf("unexpected params: %v", params)
	}
	if before.Params["score_threshold"] != -0.836 {
		t.Fatalf("issued descriptor mutated: %v", before.Params)
	}
	after, _ := reg.Lookup("l7_latency")
	if after.Params["score_threshold"] != -0.9 {
		t.Fatalf("update not visible: %v", after.Params)
	}
}

func TestApplyRejectsUnknownParam(t *testing.T) {
	reg, err := NewRegistry(DefaultTable(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := reg.Apply(ParamUpdate{Job: "bytes_out", Params: map[string]any{"bogus": 1}}); !errors.Is(err, ErrUnknownParam) {
		t.Fatalf("expected ErrUnknownParam, got %v", err)
	}
	if _, err := reg.Apply(ParamUpdate{Job: "bytes_out", Params: map[string]any{"score_threshold": "high"}}); err == nil {
		t.Fatalf("expected coercion error")
	}
}

func TestNewRegistryAppliesOverrides(t *testing.T) {
	reg, err := NewRegistry(DefaultTable(), nil, map[string]map[string]any{"dns_latency": {"limit": 1000}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	params, _ := reg.Params("dns_latency")
	if params["limit"] != 1000.0 {
		t.Fatalf("expected override, got %v", params["limit"])
	}
	if _, err := NewRegistry(DefaultTable(), nil, map[string]map[string]any{"nope": {}}); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected unknown job override to fail, got %v", err)
	}
}
