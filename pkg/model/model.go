// Package model holds the linear exploitation classifier: a weight per named
// feature plus a bias, passed through the logistic function.
package model

import (
	"fmt"
	"math"
	"time"

	"github.com/mchmarny/day0/pkg/feature"
	"gonum.org/v1/gonum/floats"
)

// SchemaVersion is the artifact format written by Save and accepted by Load.
const SchemaVersion = 1

// Model is a trained linear classifier bound to an ordered list of feature
// names. It is not mutated after training or loading, so one instance can
// serve any number of concurrent callers.
type Model struct {
	SchemaVersion int              `json:"schema_version"`
	Vocabulary    string           `json:"vocabulary,omitempty"`
	Features      []string         `json:"features"`
	Weights       []float64        `json:"weights"`
	Bias          float64          `json:"bias"`
	TrainedAt     time.Time        `json:"trained_at"`
	Summary       *TrainingSummary `json:"summary,omitempty"`
}

// TrainingSummary describes the data and the fit that produced a model.
type TrainingSummary struct {
	Rows       int     `json:"rows"`
	Positives  int     `json:"positives"`
	Negatives  int     `json:"negatives"`
	Iterations int     `json:"iterations"`
	Loss       float64 `json:"loss"`
}

// New creates a model from explicit weights. The feature names and weights
// must line up one to one.
func New(features []string, weights []float64, bias float64) (*Model, error) {
	m := &Model{
		SchemaVersion: SchemaVersion,
		Features:      append([]string(nil), features...),
		Weights:       append([]float64(nil), weights...),
		Bias:          bias,
	}
	m.Vocabulary, _ = feature.VocabularyOf(m.Features)

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Model) validate() error {
	if len(m.Features) == 0 {
		return fmt.Errorf("model has no features")
	}
	if len(m.Weights) != len(m.Features) {
		return fmt.Errorf("model has %d weights for %d features", len(m.Weights), len(m.Features))
	}

	seen := make(map[string]bool, len(m.Features))
	for _, f := range m.Features {
		if f == "" {
			return fmt.Errorf("model has an empty feature name")
		}
		if seen[f] {
			return fmt.Errorf("model feature listed twice: %s", f)
		}
		seen[f] = true
	}

	for i, w := range m.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("model weight for %s is not finite", m.Features[i])
		}
	}
	if math.IsNaN(m.Bias) || math.IsInf(m.Bias, 0) {
		return fmt.Errorf("model bias is not finite")
	}
	return nil
}

// PredictProbability returns the probability of the positive (exploited)
// class for the mapping. Features missing from the mapping count as 0.
func (m *Model) PredictProbability(features feature.Mapping) float64 {
	return sigmoid(m.decision(feature.Vector(m.Features, features)))
}

// Contributions returns weight[i] * value[i] for every model feature, in
// model feature order.
func (m *Model) Contributions(features feature.Mapping) []float64 {
	x := feature.Vector(m.Features, features)
	floats.Mul(x, m.Weights)
	return x
}

func (m *Model) decision(x []float64) float64 {
	return floats.Dot(m.Weights, x) + m.Bias
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
