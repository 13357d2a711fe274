package feature

import (
	"fmt"
	"slices"
)

// Feature names shared by the extractor, the heuristic scorer and trained models.
const (
	BaseScore              = "base_score"
	AttackVectorNetwork    = "attack_vector_network"
	AttackComplexityLow    = "attack_complexity_low"
	PrivilegesRequiredNone = "privileges_required_none"
	UserInteractionNone    = "user_interaction_none"
	ScopeChanged           = "scope_changed"
	CWEPresent             = "cwe_present"

	KeywordRCE        = "keyword_rce"
	KeywordPrivesc    = "keyword_privesc"
	KeywordAuthBypass = "keyword_auth_bypass"
	KeywordSSRF       = "keyword_ssrf"
	KeywordSQLi       = "keyword_sqli"
	KeywordXSS        = "keyword_xss"
	KeywordDeser      = "keyword_deser"
	KeywordTraversal  = "keyword_traversal"

	EPSS       = "epss"
	Percentile = "percentile"
	EPSSGe001  = "epss_ge_001"
	EPSSGe010  = "epss_ge_010"
	EPSSGe050  = "epss_ge_050"
)

// Vocabulary names a trained model can be bound to.
const (
	VocabularyCVSS = "cvss"
	VocabularyEPSS = "epss"
)

var (
	// CVSSOrder is the column order of features extracted from a CVE record.
	CVSSOrder = append([]string{
		BaseScore,
		AttackVectorNetwork,
		AttackComplexityLow,
		PrivilegesRequiredNone,
		UserInteractionNone,
		ScopeChanged,
		CWEPresent,
	}, keywordNames()...)

	// EPSSOrder is the column order of features derived from an EPSS lookup.
	EPSSOrder = []string{
		EPSS,
		Percentile,
		EPSSGe001,
		EPSSGe010,
		EPSSGe050,
	}

	// Vocabularies lists the supported vocabulary names.
	Vocabularies = []string{VocabularyCVSS, VocabularyEPSS}
)

// Mapping is a feature name to value lookup. Absent names read as 0.
type Mapping map[string]float64

// Get returns the value for name or 0 when it is not present.
func (m Mapping) Get(name string) float64 {
	return m[name]
}

// Clone returns a copy of the mapping.
func (m Mapping) Clone() Mapping {
	c := make(Mapping, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// Order returns a copy of the ordered feature names for the vocabulary.
func Order(vocabulary string) ([]string, error) {
	switch vocabulary {
	case VocabularyCVSS:
		return slices.Clone(CVSSOrder), nil
	case VocabularyEPSS:
		return slices.Clone(EPSSOrder), nil
	default:
		return nil, fmt.Errorf("unknown feature vocabulary: %q", vocabulary)
	}
}

// VocabularyOf reports which vocabulary the names are, in exact order.
func VocabularyOf(names []string) (string, bool) {
	switch {
	case slices.Equal(names, CVSSOrder):
		return VocabularyCVSS, true
	case slices.Equal(names, EPSSOrder):
		return VocabularyEPSS, true
	default:
		return "", false
	}
}

// Row is the fixed-shape result of extracting features from one CVE record.
// Rows are produced by Extract and should be treated as read-only.
type Row struct {
	CVEID                  string         `json:"cve_id"`
	BaseScore              float64        `json:"base_score"`
	AttackVectorNetwork    int            `json:"attack_vector_network"`
	AttackComplexityLow    int            `json:"attack_complexity_low"`
	PrivilegesRequiredNone int            `json:"privileges_required_none"`
	UserInteractionNone    int            `json:"user_interaction_none"`
	ScopeChanged           int            `json:"scope_changed"`
	CWEPresent             int            `json:"cwe_present"`
	Keywords               map[string]int `json:"keywords"`
}

// Mapping converts the row to a feature mapping. The identifier is not included.
func (r Row) Mapping() Mapping {
	m := Mapping{
		BaseScore:              r.BaseScore,
		AttackVectorNetwork:    float64(r.AttackVectorNetwork),
		AttackComplexityLow:    float64(r.AttackComplexityLow),
		PrivilegesRequiredNone: float64(r.PrivilegesRequiredNone),
		UserInteractionNone:    float64(r.UserInteractionNone),
		ScopeChanged:           float64(r.ScopeChanged),
		CWEPresent:             float64(r.CWEPresent),
	}
	for _, k := range keywords {
		m[k.name] = float64(r.Keywords[k.name])
	}
	return m
}
