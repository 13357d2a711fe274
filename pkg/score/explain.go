package score

import (
	"math"
	"sort"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/mchmarny/day0/pkg/model"
	"github.com/pkg/errors"
)

// Explainer scores with a trained model and explains the result by ranking
// the per-feature contributions (weight * value).
type Explainer struct {
	model *model.Model
}

// NewExplainer wraps a loaded model.
func NewExplainer(m *model.Model) (*Explainer, error) {
	if m == nil {
		return nil, errors.New("model required")
	}
	return &Explainer{model: m}, nil
}

// Model returns the wrapped model.
func (e *Explainer) Model() *model.Model {
	return e.model
}

// Score returns the model probability as a 0-100 risk and up to MaxReasons
// non-zero contributions ordered by descending magnitude. Equal magnitudes
// keep model feature order.
func (e *Explainer) Score(features feature.Mapping) (int, []Reason) {
	risk := riskFromProbability(e.model.PredictProbability(features))

	contribs := e.model.Contributions(features)
	idx := make([]int, 0, len(contribs))
	for i, c := range contribs {
		if c != 0 && !math.IsNaN(c) && !math.IsInf(c, 0) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return math.Abs(contribs[idx[a]]) > math.Abs(contribs[idx[b]])
	})
	if len(idx) > MaxReasons {
		idx = idx[:MaxReasons]
	}

	reasons := make([]Reason, 0, len(idx))
	for _, i := range idx {
		d := Up
		if contribs[i] < 0 {
			d = Down
		}
		reasons = append(reasons, Reason{
			Feature:   e.model.Features[i],
			Direction: d,
			Weight:    math.Abs(contribs[i]),
		})
	}
	return risk, reasons
}
