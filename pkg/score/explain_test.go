package score

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/mchmarny/day0/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func explainer(t *testing.T, features []string, weights []float64, bias float64) *Explainer {
	t.Helper()
	m, err := model.New(features, weights, bias)
	require.NoError(t, err)
	e, err := NewExplainer(m)
	require.NoError(t, err)
	return e
}

func TestNewExplainer_NilModel(t *testing.T) {
	_, err := NewExplainer(nil)
	assert.Error(t, err)
}

func TestExplainer_ZeroModel(t *testing.T) {
	e := explainer(t, feature.EPSSOrder, make([]float64, len(feature.EPSSOrder)), 0)

	for _, in := range []feature.Mapping{{}, feature.FromEPSS(0.9, 0.99)} {
		assert.Equal(t, 0.5, e.Model().PredictProbability(in))
		risk, reasons := e.Score(in)
		assert.Equal(t, 50, risk)
		assert.Empty(t, reasons)
	}
}

func TestExplainer_Ranking(t *testing.T) {
	e := explainer(t,
		[]string{"a", "b", "c", "d", "e", "f", "g", "h"},
		[]float64{1, -3, 0.5, 2, 0, -1, 1, 0.1},
		0)

	_, reasons := e.Score(feature.Mapping{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1, "f": 1, "g": 1, "h": 1})
	require.Len(t, reasons, MaxReasons)
	assert.Equal(t, []Reason{
		{Feature: "b", Direction: Down, Weight: 3},
		{Feature: "d", Direction: Up, Weight: 2},
		{Feature: "a", Direction: Up, Weight: 1},
		{Feature: "f", Direction: Down, Weight: 1},
		{Feature: "g", Direction: Up, Weight: 1},
		{Feature: "c", Direction: Up, Weight: 0.5},
	}, reasons)
}

func TestExplainer_DropsZeroBeforeCap(t *testing.T) {
	e := explainer(t,
		[]string{"a", "b", "c", "d", "e", "f", "g"},
		[]float64{0, 0, 0, 0, 0, 0, 1},
		0)
	_, reasons := e.Score(feature.Mapping{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1, "f": 1, "g": 0.25})
	require.Len(t, reasons, 1)
	assert.Equal(t, "g", reasons[0].Feature)
	assert.Equal(t, 0.25, reasons[0].Weight)
}

func TestExplainer_NegativeValue(t *testing.T) {
	e := explainer(t, []string{"a"}, []float64{2}, 0)
	_, reasons := e.Score(feature.Mapping{"a": -1.5})
	require.Len(t, reasons, 1)
	assert.Equal(t, Down, reasons[0].Direction)
	assert.Equal(t, 3.0, reasons[0].Weight)
}

func TestExplainer_IgnoresHeuristicTable(t *testing.T) {
	e := explainer(t, feature.EPSSOrder, []float64{1, 0, 0, 0, 0}, 0)
	_, reasons := e.Score(feature.Mapping{feature.BaseScore: 9.8, feature.KeywordRCE: 1, feature.EPSS: 0.2})
	require.Len(t, reasons, 1)
	assert.Equal(t, feature.EPSS, reasons[0].Feature)
}

func TestExplainer_Idempotent(t *testing.T) {
	e := explainer(t, feature.EPSSOrder, []float64{4.2, 1.1, -0.3, 0.7, 2.2}, -3)
	in := feature.FromEPSS(0.27, 0.93)

	r1, reasons1 := e.Score(in)
	r2, reasons2 := e.Score(in)
	assert.Equal(t, r1, r2)
	assert.Equal(t, reasons1, reasons2)
}

func TestRiskFromProbability(t *testing.T) {
	tests := []struct {
		p    float64
		want int
	}{
		{0, 0},
		{1, 100},
		{0.5, 50},
		{0.125, 13},
		{0.374, 37},
		{1.2, 100},
		{-0.1, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, riskFromProbability(tt.p), "p=%v", tt.p)
	}
}

func TestExplainer_NonFiniteContributions(t *testing.T) {
	e := explainer(t, feature.EPSSOrder, []float64{1, 2, 0, 0, 0}, 0)

	tests := []struct {
		name string
		in   feature.Mapping
	}{
		{"inf", feature.Mapping{feature.EPSS: math.Inf(1), feature.Percentile: 0.5}},
		{"nan", feature.Mapping{feature.EPSS: math.NaN(), feature.Percentile: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk, reasons := e.Score(tt.in)
			assert.GreaterOrEqual(t, risk, 0)
			assert.LessOrEqual(t, risk, 100)
			require.Len(t, reasons, 1)
			assert.Equal(t, feature.Percentile, reasons[0].Feature)
			assert.Equal(t, 1.0, reasons[0].Weight)

			_, err := json.Marshal(reasons)
			assert.NoError(t, err)
		})
	}
}
