package jobs

import "github.com/miradorstack/mirador-hotspots/internal/models"

// Model identifiers bound in the detector registry.
const (
	ModelIsolationForest = "isolation_forest"
	ModelZScore          = "zscore"
	ModelStaticThreshold = "static_threshold"
)

// DefaultTable returns the built-in job descriptors in registry order.
func DefaultTable() []models.Job {
	return []models.Job{
		{
			Name:      "l7_latency",
			ModelID:   ModelIsolationForest,
			DataType:  models.DataTypeL7,
			SourceLog: models.LogL7,
			GroupFields: []string{
				"start_time", "dest_name_aggr", "dest_namespace", "dest_service_name",
				"src_namespace", "src_name_aggr", "duration_mean",
			},
			ValueFields: []string{"duration_mean"},
			Tolerance:   0.85,
			Dynamic:     true,
			Params: map[string]any{
				"n_estimators":    100,
				"max_samples":     256,
				"seed":            42,
				"score_threshold": -0.836,
			},
			NamespaceField: "src_namespace",
			EntityField:    "src_name_aggr",
			Subject:        "latency",
			Unit:           "μs",
			ValueDivisor:   1000,
		},
		{
			Name:           "bytes_out",
			ModelID:        ModelZScore,
			DataType:       models.DataTypeSource,
			SourceLog:      models.LogFlows,
			GroupFields:    []string{"start_time", "source_namespace", "source_name_aggr"},
			ValueFields:    []string{"bytes_out"},
			Tolerance:      0.8,
			Dynamic:        true,
			Params:         map[string]any{"score_threshold": -3.0},
			NamespaceField: "source_namespace",
			EntityField:    "source_name_aggr",
			Subject:        "output",
			Unit:           "bytes",
			ValueDivisor:   1,
		},
		{
			Name:           "bytes_in",
			ModelID:        ModelZScore,
			DataType:       models.DataTypeDest,
			SourceLog:      models.LogFlows,
			GroupFields:    []string{"start_time", "dest_namespace", "dest_service_name"},
			ValueFields:    []string{"bytes_in"},
			Tolerance:      0.8,
			Dynamic:        true,
			Params:         map[string]any{"score_threshold": -3.0},
			NamespaceField: "dest_namespace",
			EntityField:    "dest_service_name",
			Subject:        "input",
			Unit:           "bytes",
			ValueDivisor:   1,
		},
		{
			Name:           "process_bytes",
			ModelID:        ModelZScore,
			DataType:       models.DataTypeFlows,
			SourceLog:      models.LogFlows,
			GroupFields:    []string{"start_time", "source_namespace", "source_name_aggr", "process_name"},
			ValueFields:    []string{"bytes_in", "bytes_out"},
			Tolerance:      0.8,
			Dynamic:        true,
			Params:         map[string]any{"score_threshold": -3.5},
			NamespaceField: "source_namespace",
			EntityField:    "process_name",
			Subject:        "process traffic",
			Unit:           "bytes",
			ValueDivisor:   1,
		},
		{
			Name:           "dns_latency",
			ModelID:        ModelStaticThreshold,
			DataType:       models.DataTypeDNS,
			SourceLog:      models.LogDNS,
			GroupFields:    []string{"start_time", "client_namespace", "client_name_aggr", "qname"},
			ValueFields:    []string{"latency_mean"},
			Tolerance:      0.8,
			Dynamic:        false,
			Params:         map[string]any{"limit": 500000.0, "score_threshold": -1.0},
			NamespaceField: "client_namespace",
			EntityField:    "client_name_aggr",
			Subject:        "DNS latency",
			Unit:           "μs",
			ValueDivisor:   1000,
		},
	}
}
