package score

import (
	"math"

	"github.com/mchmarny/day0/pkg/feature"
)

// boost adds Points to the risk when Feature is set.
type boost struct {
	Feature string
	Points  int
}

// boosts are evaluated in this order and reasons follow it, not magnitude.
var boosts = []boost{
	{feature.AttackVectorNetwork, 10},
	{feature.AttackComplexityLow, 10},
	{feature.PrivilegesRequiredNone, 10},
	{feature.UserInteractionNone, 10},
	{feature.KeywordRCE, 10},
	{feature.KeywordAuthBypass, 7},
	{feature.KeywordDeser, 7},
	{feature.KeywordSSRF, 7},
	{feature.KeywordSQLi, 5},
	{feature.ScopeChanged, 5},
}

// Heuristic scores CVSS features with a fixed point table. It needs no
// trained model.
type Heuristic struct{}

// Score starts from the base score scaled to 0-100 and adds the points of
// every indicator that is set. The base score is always the first reason and
// reports the raw value.
func (Heuristic) Score(features feature.Mapping) (int, []Reason) {
	base := features.Get(feature.BaseScore)
	if math.IsNaN(base) {
		base = 0
	}
	risk := int(math.Round(math.Max(0, math.Min(10, base)) * 10))

	reasons := []Reason{{Feature: feature.BaseScore, Direction: Up, Weight: base}}
	for _, b := range boosts {
		if features.Get(b.Feature) >= 1 {
			risk += b.Points
			reasons = append(reasons, Reason{Feature: b.Feature, Direction: Up, Weight: float64(b.Points)})
		}
	}

	if len(reasons) > MaxReasons {
		reasons = reasons[:MaxReasons]
	}
	return clampRisk(risk), reasons
}
