package score

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/mchmarny/day0/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTestNotFound = errors.New("not found")

type mapSource map[string]feature.Mapping

func (s mapSource) EPSSFeatures(_ context.Context, id string) (feature.Mapping, error) {
	m, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, errTestNotFound)
	}
	return m, nil
}

func readTestCVE(t *testing.T) []byte {
	t.Helper()
	b, err := os.ReadFile("testdata/CVE-2099-0001.json")
	require.NoError(t, err)
	return b
}

func saveModel(t *testing.T, features []string, weights []float64, bias float64) string {
	t.Helper()
	m, err := model.New(features, weights, bias)
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, model.Save(m, p))
	return p
}

func TestEngine_HeuristicFallback(t *testing.T) {
	e := NewEngine(Options{ModelPath: filepath.Join(t.TempDir(), "missing.json"), AllowFallback: true})

	r, err := e.ScoreJSON(readTestCVE(t))
	require.NoError(t, err)
	assert.Equal(t, "CVE-2099-0001", r.CVEID)
	assert.Equal(t, ModeHeuristic, r.Mode)
	assert.Equal(t, 100, r.Risk)
	assert.Len(t, r.Reasons, MaxReasons)
	assert.Equal(t, Disclaimer(ModeHeuristic), r.Disclaimer)
	assert.Equal(t, 9.8, r.Features[feature.BaseScore])
	assert.Len(t, r.Features, len(feature.CVSSOrder))
}

func TestEngine_NoFallback(t *testing.T) {
	e := NewEngine(Options{ModelPath: filepath.Join(t.TempDir(), "missing.json")})
	_, err := e.ScoreJSON(readTestCVE(t))
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))
}

func TestEngine_CorruptModelNeverFallsBack(t *testing.T) {
	p := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(p, []byte("garbage"), 0600))

	e := NewEngine(Options{ModelPath: p, AllowFallback: true})
	_, err := e.ScoreJSON(readTestCVE(t))
	var le *model.LoadError
	assert.True(t, errors.As(err, &le))
}

func TestEngine_TrainedModel(t *testing.T) {
	weights := make([]float64, len(feature.CVSSOrder))
	weights[0] = 0.5 // base_score
	weights[7] = 1   // keyword_rce
	p := saveModel(t, feature.CVSSOrder, weights, -5)

	e := NewEngine(Options{ModelPath: p, AllowFallback: true})
	r, err := e.ScoreJSON(readTestCVE(t))
	require.NoError(t, err)

	assert.Equal(t, ModeTrained, r.Mode)
	assert.Equal(t, Disclaimer(ModeTrained), r.Disclaimer)
	// 0.5*9.8 + 1 - 5 = 0.9
	assert.Equal(t, 71, r.Risk)
	require.Len(t, r.Reasons, 2)
	assert.Equal(t, Reason{Feature: feature.BaseScore, Direction: Up, Weight: 4.9}, r.Reasons[0])
	assert.Equal(t, feature.KeywordRCE, r.Reasons[1].Feature)
}

func TestEngine_PreloadedModel(t *testing.T) {
	m, err := model.New(feature.CVSSOrder, make([]float64, len(feature.CVSSOrder)), 0)
	require.NoError(t, err)

	e := NewEngine(Options{Model: m})
	r, err := e.ScoreRecord(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 50, r.Risk)
	assert.Empty(t, r.CVEID)
	assert.NotNil(t, r.Reasons)
	assert.Empty(t, r.Reasons)
}

func TestEngine_BadJSON(t *testing.T) {
	e := NewEngine(Options{AllowFallback: true})
	_, err := e.ScoreJSON([]byte("{"))
	assert.Error(t, err)
}

func TestEngine_ScoreEPSS_NormalizesID(t *testing.T) {
	p := saveModel(t, feature.EPSSOrder, []float64{3, 1, 0.5, 0.5, 1}, -2)
	src := mapSource{"CVE-2021-44228": feature.FromEPSS(0.97, 0.99)}

	r, err := NewEngine(Options{ModelPath: p}).ScoreEPSS(context.Background(), src, "  cve-2021-44228\n")
	require.NoError(t, err)
	assert.Equal(t, "CVE-2021-44228", r.CVEID)
}

func TestEngine_ScoreEPSS(t *testing.T) {
	p := saveModel(t, feature.EPSSOrder, []float64{3, 1, 0.5, 0.5, 1}, -2)
	src := mapSource{"CVE-2021-44228": feature.FromEPSS(0.97, 0.99)}

	e := NewEngine(Options{ModelPath: p})
	r, err := e.ScoreEPSS(context.Background(), src, "CVE-2021-44228")
	require.NoError(t, err)
	assert.Equal(t, ModeTrainedEPSS, r.Mode)
	assert.Equal(t, "CVE-2021-44228", r.CVEID)
	assert.Equal(t, Disclaimer(ModeTrainedEPSS), r.Disclaimer)
	assert.Greater(t, r.Risk, 90)
	require.NotEmpty(t, r.Reasons)
	assert.Equal(t, feature.EPSS, r.Reasons[0].Feature)
}

func TestEngine_ScoreEPSS_NotFound(t *testing.T) {
	p := saveModel(t, feature.EPSSOrder, make([]float64, 5), 0)
	e := NewEngine(Options{ModelPath: p})
	_, err := e.ScoreEPSS(context.Background(), mapSource{}, "CVE-0000-0000")
	assert.True(t, errors.Is(err, errTestNotFound))
}

func TestEngine_ScoreEPSS_RequiresModel(t *testing.T) {
	e := NewEngine(Options{ModelPath: filepath.Join(t.TempDir(), "missing.json"), AllowFallback: true})
	_, err := e.ScoreEPSS(context.Background(), mapSource{"CVE-1": {}}, "CVE-1")
	assert.True(t, errors.Is(err, model.ErrModelUnavailable))

	_, err = e.ScoreEPSS(context.Background(), nil, "CVE-1")
	assert.Error(t, err)
}

func TestEngine_ScoreJSONs(t *testing.T) {
	docs := make([][]byte, 0, 20)
	for i := range 20 {
		doc := map[string]any{"cve": map[string]any{
			"id": fmt.Sprintf("CVE-2099-%04d", i),
			"metrics": map[string]any{"cvssMetricV31": []any{
				map[string]any{"cvssData": map[string]any{"baseScore": float64(i % 11)}},
			}},
		}}
		b, err := json.Marshal(doc)
		require.NoError(t, err)
		docs = append(docs, b)
	}

	e := NewEngine(Options{AllowFallback: true, Workers: 3})
	results, err := e.ScoreJSONs(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 20)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("CVE-2099-%04d", i), r.CVEID)
		assert.Equal(t, (i%11)*10, r.Risk)
	}
}

func TestEngine_ScoreJSONs_Error(t *testing.T) {
	e := NewEngine(Options{AllowFallback: true})
	_, err := e.ScoreJSONs(context.Background(), [][]byte{[]byte(`{}`), []byte(`nope`)})
	assert.Error(t, err)
}

func TestEngine_ConcurrentUse(t *testing.T) {
	p := saveModel(t, feature.EPSSOrder, []float64{4.2, 1.1, -0.3, 0.7, 2.2}, -3)
	e := NewEngine(Options{ModelPath: p})
	src := mapSource{"CVE-1": feature.FromEPSS(0.27, 0.93)}

	want, err := e.ScoreEPSS(context.Background(), src, "CVE-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.ScoreEPSS(context.Background(), src, "CVE-1")
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestResult_JSON(t *testing.T) {
	r := newResult("CVE-1", ModeHeuristic, feature.Mapping{feature.BaseScore: 5}, Heuristic{})
	b, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	for _, k := range []string{"cve_id", "risk", "mode", "features", "reasons", "disclaimer"} {
		assert.Contains(t, out, k)
	}
	assert.Equal(t, float64(50), out["risk"])
	assert.Equal(t, "heuristic_fallback", out["mode"])
}

func TestResult_String(t *testing.T) {
	r := &Result{Risk: 42, Mode: ModeTrained, Reasons: []Reason{{Feature: "epss", Direction: Up, Weight: 1.5}}}
	assert.Equal(t, "unknown risk=42 mode=trained_model epss:up:1.5", r.String())
}

func TestDisclaimer(t *testing.T) {
	assert.Equal(t, "Defensive risk scoring only. No trained model found; using heuristic fallback.", Disclaimer(ModeHeuristic))
	assert.Equal(t, "Defensive risk scoring only.", Disclaimer(ModeTrained))
	assert.Equal(t, "Defensive risk scoring only. Uses EPSS-derived features.", Disclaimer(ModeTrainedEPSS))
	assert.Equal(t, "Defensive risk scoring only.", Disclaimer(Mode("other")))
}
