package score

import (
	"fmt"

	"github.com/mchmarny/day0/pkg/feature"
)

// Mode tells which strategy produced a result.
type Mode string

const (
	ModeHeuristic    Mode = "heuristic_fallback"
	ModeTrained      Mode = "trained_model"
	ModeTrainedEPSS  Mode = "trained_model_epss"
	disclaimerPrefix      = "Defensive risk scoring only."
)

var disclaimers = map[Mode]string{
	ModeHeuristic:   disclaimerPrefix + " No trained model found; using heuristic fallback.",
	ModeTrained:     disclaimerPrefix,
	ModeTrainedEPSS: disclaimerPrefix + " Uses EPSS-derived features.",
}

// Disclaimer returns the fixed disclaimer printed with results of mode m.
func Disclaimer(m Mode) string {
	if d, ok := disclaimers[m]; ok {
		return d
	}
	return disclaimerPrefix
}

// Result is the scored outcome for one vulnerability.
type Result struct {
	CVEID      string          `json:"cve_id" yaml:"cve_id"`
	Risk       int             `json:"risk" yaml:"risk"`
	Mode       Mode            `json:"mode" yaml:"mode"`
	Features   feature.Mapping `json:"features" yaml:"features"`
	Reasons    []Reason        `json:"reasons" yaml:"reasons"`
	Disclaimer string          `json:"disclaimer" yaml:"disclaimer"`
}

func newResult(id string, mode Mode, features feature.Mapping, s Scorer) *Result {
	risk, reasons := s.Score(features)
	if reasons == nil {
		reasons = []Reason{}
	}
	return &Result{
		CVEID:      id,
		Risk:       risk,
		Mode:       mode,
		Features:   features,
		Reasons:    reasons,
		Disclaimer: Disclaimer(mode),
	}
}

// String returns a one line summary of the result.
func (r *Result) String() string {
	id := r.CVEID
	if id == "" {
		id = "unknown"
	}
	s := fmt.Sprintf("%s risk=%d mode=%s", id, r.Risk, r.Mode)
	for _, re := range r.Reasons {
		s += fmt.Sprintf(" %s:%s:%g", re.Feature, re.Direction, re.Weight)
	}
	return s
}
