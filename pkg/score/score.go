// Package score turns feature mappings into a 0-100 exploitation risk and
// the ranked reasons behind it.
package score

import (
	"math"

	"github.com/mchmarny/day0/pkg/feature"
)

const (
	// MaxReasons caps the reasons returned by any scorer.
	MaxReasons = 6

	minRisk = 0
	maxRisk = 100
)

// Direction is the way a feature moved the score.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Reason is one feature's contribution to a score. Weight is never negative;
// the sign is carried by Direction.
type Reason struct {
	Feature   string    `json:"feature" yaml:"feature"`
	Direction Direction `json:"direction" yaml:"direction"`
	Weight    float64   `json:"weight" yaml:"weight"`
}

// Scorer is a scoring strategy. Implementations are pure and safe for
// concurrent use.
type Scorer interface {
	Score(features feature.Mapping) (risk int, reasons []Reason)
}

func clampRisk(v int) int {
	return min(maxRisk, max(minRisk, v))
}

// riskFromProbability scales p to 0-100 using math.Round, so halves round
// away from zero (0.125 -> 13).
func riskFromProbability(p float64) int {
	if math.IsNaN(p) {
		return minRisk
	}
	return clampRisk(int(math.Round(p * 100)))
}
