package detector

import (
	"errors"
	"fmt"
	"math"
)

// StaticThreshold flags rows whose largest value exceeds a fixed limit. It has
// no trained state: score is -max(value)/limit, so values past the limit score below -1.
type StaticThreshold struct{}

// ID implements Model.
func (StaticThreshold) ID() string { return "static_threshold" }

// Fit implements Model; limits are configured, never learned.
func (StaticThreshold) Fit([][]float64, Params) ([]byte, error) {
	return nil, ErrNotTrainable
}

// Score implements Model.
func (StaticThreshold) Score(_ []byte, samples [][]float64, params Params) ([]float64, error) {
	limit := params.Float("limit", 0)
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %v", limit)
	}
	scores := make([]float64, len(samples))
	for i, row := range samples {
		if len(row) == 0 {
			return nil, errors.New("row without features")
		}
		worst := math.Inf(-1)
		for _, v := range row {
			worst = math.Max(worst, v)
		}
		scores[i] = -worst / limit
	}
	return scores, nil
}
