package detector

import (
	"errors"
	"fmt"
	"math"

	"github.com/miradorstack/mirador-hotspots/internal/codec"
)

// ZScore scores each row by the negated largest absolute z-score across its features.
type ZScore struct{}

type zscoreState struct {
	Mean []float64 `cbor:"mean"`
	Std  []float64 `cbor:"std"`
}

const minStd = 1e-9

// ID implements Model.
func (ZScore) ID() string { return "zscore" }

// Fit records per-feature mean and sample standard deviation.
func (ZScore) Fit(samples [][]float64, _ Params) ([]byte, error) {
	if len(samples) == 0 {
		return nil, errors.New("no samples")
	}
	width := len(samples[0])
	if err := checkWidth(samples, width); err != nil {
		return nil, err
	}
	state := zscoreState{Mean: make([]float64, width), Std: make([]float64, width)}
	n := float64(len(samples))
	for _, row := range samples {
		for j, v := range row {
			state.Mean[j] += v
		}
	}
	for j := range state.Mean {
		state.Mean[j] /= n
	}
	if len(samples) > 1 {
		for _, row := range samples {
			for j, v := range row {
				d := v - state.Mean[j]
				state.Std[j] += d * d
			}
		}
		for j := range state.Std {
			state.Std[j] = math.Sqrt(state.Std[j] / (n - 1))
		}
	}
	return codec.Marshal(state)
}

// Score implements Model.
func (ZScore) Score(state []byte, samples [][]float64, _ Params) ([]float64, error) {
	if len(state) == 0 {
		return nil, ErrNoState
	}
	var st zscoreState
	if err := codec.Unmarshal(state, &st); err != nil {
		return nil, fmt.Errorf("decode zscore state: %w", err)
	}
	if err := checkWidth(samples, len(st.Mean)); err != nil {
		return nil, err
	}
	scores := make([]float64, len(samples))
	for i, row := range samples {
		worst := 0.0
		for j, v := range row {
			z := math.Abs(v-st.Mean[j]) / math.Max(st.Std[j], minStd)
			worst = math.Max(worst, z)
		}
		scores[i] = -worst
	}
	return scores, nil
}
