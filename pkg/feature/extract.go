package feature

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	maxBaseScore = 10.0

	cvssNetwork = "NETWORK"
	cvssLow     = "LOW"
	cvssNone    = "NONE"
	cvssChanged = "CHANGED"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExtractJSON decodes an NVD CVE JSON document and extracts its features.
// It only fails when b is not a JSON document; any shape problem inside the
// document degrades to default values.
func ExtractJSON(b []byte) (Row, error) {
	b = bytes.TrimPrefix(b, utf8BOM)

	var rec any
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if err := d.Decode(&rec); err != nil {
		return Row{}, errors.Wrap(err, "error decoding CVE record")
	}

	m, _ := rec.(map[string]any)
	return Extract(m), nil
}

// Extract builds the feature row for a decoded CVE record. It never fails:
// missing or mistyped fields fall back to empty values.
func Extract(rec map[string]any) Row {
	cve := cveObject(rec)

	cvss, _ := lookup(firstMetric(cve), "cvssData").(map[string]any)

	weaknesses, _ := lookup(cve, "weaknesses").([]any)

	return Row{
		CVEID:                  asString(lookup(cve, "id")),
		BaseScore:              clampScore(asFloat(lookup(cvss, "baseScore"))),
		AttackVectorNetwork:    flag(strings.EqualFold(asString(lookup(cvss, "attackVector")), cvssNetwork)),
		AttackComplexityLow:    flag(strings.EqualFold(asString(lookup(cvss, "attackComplexity")), cvssLow)),
		PrivilegesRequiredNone: flag(strings.EqualFold(asString(lookup(cvss, "privilegesRequired")), cvssNone)),
		UserInteractionNone:    flag(strings.EqualFold(asString(lookup(cvss, "userInteraction")), cvssNone)),
		ScopeChanged:           flag(strings.EqualFold(asString(lookup(cvss, "scope")), cvssChanged)),
		CWEPresent:             flag(len(weaknesses) > 0),
		Keywords:               matchKeywords(descriptionText(cve)),
	}
}

// cveObject returns the object holding the CVE fields. NVD API responses wrap
// it in a "cve" key, single exported records sometimes do not.
func cveObject(rec map[string]any) map[string]any {
	if c, ok := lookup(rec, "cve").(map[string]any); ok {
		return c
	}
	if _, ok := rec["descriptions"]; ok {
		return rec
	}
	if _, ok := rec["id"]; ok {
		return rec
	}
	return nil
}

// firstMetric returns the first CVSS v3.1 metric entry, or nil.
func firstMetric(cve map[string]any) any {
	list, ok := lookup(cve, "metrics", "cvssMetricV31").([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	return list[0]
}

// descriptionText joins, in record order, every description with a non-empty value.
func descriptionText(cve map[string]any) string {
	list, _ := lookup(cve, "descriptions").([]any)
	vals := make([]string, 0, len(list))
	for _, item := range list {
		if v := asString(lookup(item, "value")); v != "" {
			vals = append(vals, v)
		}
	}
	return strings.Join(vals, " ")
}

// lookup walks path through nested objects and returns nil as soon as a
// step is missing or is not an object.
func lookup(v any, path ...string) any {
	cur := v
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[p]; !ok {
			return nil
		}
	}
	return cur
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		f, _ = t.Float64()
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	case int:
		f = float64(t)
	}
	if math.IsNaN(f) {
		return 0
	}
	return f
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(maxBaseScore, v))
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
