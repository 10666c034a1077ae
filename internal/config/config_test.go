package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_HOTSPOTS_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Schedule.TrainIntervalMinutes != 1440 || cfg.Schedule.SearchIntervalMinutes != 30 {
		t.Fatalf("unexpected schedule defaults: %+v", cfg.Schedule)
	}
	if cfg.Schedule.SearchInterval() != 30*time.Minute {
		t.Fatalf("unexpected search interval: %s", cfg.Schedule.SearchInterval())
	}
	if len(cfg.Detection.AlertDropFields) != 1 || cfg.Detection.AlertDropFields[0] != "host" {
		t.Fatalf("unexpected drop fields: %v", cfg.Detection.AlertDropFields)
	}
	if !cfg.Server.Reflection || cfg.Server.MaxRecvMsgBytes != 16<<20 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hotspots.yaml")
	body := `
schedule:
  searchIntervalMinutes: 15
jobs:
  disabled: [dns_latency]
  params:
    l7_latency:
      score_threshold: -0.9
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIRADOR_HOTSPOTS_TRAIN_INTERVAL_MINUTES", "60")
	t.Setenv("MIRADOR_HOTSPOTS_SEND_ALERTS", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Schedule.SearchIntervalMinutes != 15 || cfg.Schedule.TrainIntervalMinutes != 60 {
		t.Fatalf("unexpected schedule: %+v", cfg.Schedule)
	}
	if cfg.Detection.SendAlerts {
		t.Fatalf("expected alerts disabled by env")
	}
	if got := cfg.Jobs.Params["l7_latency"]["score_threshold"]; got != -0.9 {
		t.Fatalf("unexpected param override: %v", got)
	}
	if len(cfg.Jobs.Disabled) != 1 || cfg.Jobs.Disabled[0] != "dns_latency" {
		t.Fatalf("unexpected disabled jobs: %v", cfg.Jobs.Disabled)
	}
}

func TestValidateRejectsCacheBackendWithoutCache(t *testing.T) {
	cfg := defaultConfig()
	cfg.Storage.CheckpointBackend = CheckpointBackendCache
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "requires cache") {
		t.Fatalf("expected cache backend validation error, got %v", err)
	}
}

func TestValidateRejectsBadWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.Detection.SearchStart = "last tuesday"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected window validation error")
	}
	cfg.Detection.SearchStart = "2024-01-02 03:04:05"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
