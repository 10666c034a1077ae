package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Checkpoint backends.
const (
	CheckpointBackendFile  = "file"
	CheckpointBackendCache = "cache"
)

// Config captures the settings required to boot the hotspots service.
// It is built once at startup and handed to component constructors; nothing mutates it afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Elastic   ElasticConfig   `yaml:"elastic"`
	Logging   LoggingConfig   `yaml:"logging"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Detection DetectionConfig `yaml:"detection"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	Reflection      bool          `yaml:"reflection"`
	MaxRecvMsgBytes int           `yaml:"maxRecvMsgBytes"`
}

// ElasticConfig configures the telemetry source and alert sink cluster.
type ElasticConfig struct {
	URL                string        `yaml:"url"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	CAFile             string        `yaml:"caFile"`
	InsecureSkipVerify bool          `yaml:"insecureSkipVerify"`
	Cluster            string        `yaml:"cluster"`
	IndexPrefix        string        `yaml:"indexPrefix"`
	EventsIndex        string        `yaml:"eventsIndex"`
	PageSize           int           `yaml:"pageSize"`
	ScrollTTL          time.Duration `yaml:"scrollTTL"`
	Timeout            time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// ScheduleConfig controls the cycle scheduler.
type ScheduleConfig struct {
	TrainIntervalMinutes   int           `yaml:"trainIntervalMinutes"`
	SearchIntervalMinutes  int           `yaml:"searchIntervalMinutes"`
	Tick                   time.Duration `yaml:"tick"`
	StartupSelfDiagnostics bool          `yaml:"startupSelfDiagnostics"`
	QueueSize              int           `yaml:"queueSize"`
}

// DetectionConfig controls telemetry retrieval windows and alert delivery.
type DetectionConfig struct {
	BucketMinutes   int      `yaml:"bucketMinutes"`
	MaxDocs         int      `yaml:"maxDocs"`
	SendAlerts      bool     `yaml:"sendAlerts"`
	AlertDropFields []string `yaml:"alertDropFields"`
	TrainStart      string   `yaml:"trainStart"`
	TrainEnd        string   `yaml:"trainEnd"`
	SearchStart     string   `yaml:"searchStart"`
	SearchEnd       string   `yaml:"searchEnd"`
}

// StorageConfig controls local persistence.
type StorageConfig struct {
	ModelDir          string `yaml:"modelDir"`
	DataDir           string `yaml:"dataDir"`
	HistoryRetention  int    `yaml:"historyRetention"`
	CheckpointBackend string `yaml:"checkpointBackend"`
	CheckpointKey     string `yaml:"checkpointKey"`
}

// CacheConfig controls the Redis/Valkey connection used by the cache checkpoint backend.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	PoolSize     int           `yaml:"poolSize"`
	TLS          bool          `yaml:"tls"`
}

// JobsConfig disables jobs and overrides their default parameters.
type JobsConfig struct {
	Disabled []string                  `yaml:"disabled"`
	Params   map[string]map[string]any `yaml:"params"`
}

// TrainInterval returns the train cadence as a duration.
func (s ScheduleConfig) TrainInterval() time.Duration {
	return time.Duration(s.TrainIntervalMinutes) * time.Minute
}

// SearchInterval returns the detect cadence as a duration.
func (s ScheduleConfig) SearchInterval() time.Duration {
	return time.Duration(s.SearchIntervalMinutes) * time.Minute
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_HOTSPOTS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the scheduler and stores cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Schedule.TrainIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("schedule.trainIntervalMinutes must be positive"))
	}
	if c.Schedule.SearchIntervalMinutes <= 0 {
		errs = append(errs, fmt.Errorf("schedule.searchIntervalMinutes must be positive"))
	}
	if c.Server.MaxRecvMsgBytes < 0 {
		errs = append(errs, fmt.Errorf("server.maxRecvMsgBytes must not be negative"))
	}
	if c.Schedule.Tick <= 0 {
		errs = append(errs, fmt.Errorf("schedule.tick must be positive"))
	}
	if c.Detection.BucketMinutes <= 0 {
		errs = append(errs, fmt.Errorf("detection.bucketMinutes must be positive"))
	}
	if c.Storage.HistoryRetention <= 0 {
		errs = append(errs, fmt.Errorf("storage.historyRetention must be positive"))
	}
	switch c.Storage.CheckpointBackend {
	case CheckpointBackendFile:
	case CheckpointBackendCache:
		if !c.Cache.Enabled || c.Cache.Addr == "" {
			errs = append(errs, fmt.Errorf("checkpoint backend %q requires cache.enabled and cache.addr", CheckpointBackendCache))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Storage.CheckpointBackend))
	}
	for _, field := range []struct{ name, value string }{
		{"detection.trainStart", c.Detection.TrainStart},
		{"detection.trainEnd", c.Detection.TrainEnd},
		{"detection.searchStart", c.Detection.SearchStart},
		{"detection.searchEnd", c.Detection.SearchEnd},
	} {
		if _, err := ParseWindowTime(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}
	return errors.Join(errs...)
}

// ParseWindowTime parses an optional window bound. Empty means unset.
func ParseWindowTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50052",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
			Reflection:      true,
			MaxRecvMsgBytes: 16 << 20,
		},
		Elastic: ElasticConfig{
			URL:         "https://tigera-secure-es-http.tigera-elasticsearch.svc:9200",
			Cluster:     "cluster",
			IndexPrefix: "tigera_secure_ee",
			PageSize:    10000,
			ScrollTTL:   20 * time.Second,
			Timeout:     30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 14},
		Schedule: ScheduleConfig{
			TrainIntervalMinutes:   1440,
			SearchIntervalMinutes:  30,
			Tick:                   time.Minute,
			StartupSelfDiagnostics: true,
			QueueSize:              16,
		},
		Detection: DetectionConfig{
			BucketMinutes:   5,
			MaxDocs:         500000,
			SendAlerts:      true,
			AlertDropFields: []string{"host"},
		},
		Storage: StorageConfig{
			ModelDir:          "./models",
			DataDir:           "./data",
			HistoryRetention:  100,
			CheckpointBackend: CheckpointBackendFile,
			CheckpointKey:     "mirador:hotspots:last_timestamp",
		},
		Cache: CacheConfig{
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			PoolSize:     10,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_HOTSPOTS_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_GRPC_REFLECTION"); v != "" {
		cfg.Server.Reflection = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_GRPC_MAX_RECV_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxRecvMsgBytes = n
		}
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_ELASTIC_URL"); v != "" {
		cfg.Elastic.URL = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_ELASTIC_USER"); v != "" {
		cfg.Elastic.Username = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_ELASTIC_PASSWORD"); v != "" {
		cfg.Elastic.Password = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_ELASTIC_CA_FILE"); v != "" {
		cfg.Elastic.CAFile = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CLUSTER"); v != "" {
		cfg.Elastic.Cluster = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_TRAIN_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Schedule.TrainIntervalMinutes = n
		}
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_SEARCH_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Schedule.SearchIntervalMinutes = n
		}
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_MAX_DOCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.MaxDocs = n
		}
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_SEND_ALERTS"); v != "" {
		cfg.Detection.SendAlerts = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_TRAIN_START"); v != "" {
		cfg.Detection.TrainStart = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_TRAIN_END"); v != "" {
		cfg.Detection.TrainEnd = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_SEARCH_START"); v != "" {
		cfg.Detection.SearchStart = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_SEARCH_END"); v != "" {
		cfg.Detection.SearchEnd = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_DISABLED_DETECTORS"); v != "" {
		cfg.Jobs.Disabled = splitList(v)
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_MODEL_DIR"); v != "" {
		cfg.Storage.ModelDir = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_HISTORY_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Storage.HistoryRetention = n
		}
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CHECKPOINT_BACKEND"); v != "" {
		cfg.Storage.CheckpointBackend = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_HOTSPOTS_CACHE_TLS"); parseBool(v) {
		cfg.Cache.TLS = true
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
