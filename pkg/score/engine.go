package score

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/mchmarny/day0/pkg/model"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	workersDefault = 4
)

// EPSSSource looks up the EPSS feature mapping for a CVE. Unknown
// identifiers must return an error, never an empty mapping.
type EPSSSource interface {
	EPSSFeatures(ctx context.Context, cveID string) (feature.Mapping, error)
}

// Options configure an Engine.
type Options struct {
	// ModelPath is the trained model artifact.
	ModelPath string
	// Model, when set, is used instead of loading ModelPath.
	Model *model.Model
	// AllowFallback lets record scoring use the heuristic when there is no model.
	AllowFallback bool
	// Workers bounds concurrent scoring in ScoreJSONs.
	Workers int
}

// Engine picks the scoring strategy for each request. The model is loaded
// once, on first use, and shared read-only by every call.
type Engine struct {
	opts Options

	once      sync.Once
	explainer *Explainer
	loadErr   error
}

// NewEngine creates an engine for the given options.
func NewEngine(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = workersDefault
	}
	return &Engine{opts: opts}
}

func (e *Engine) loadExplainer() (*Explainer, error) {
	e.once.Do(func() {
		m := e.opts.Model
		if m == nil {
			m, e.loadErr = model.Load(e.opts.ModelPath)
			if e.loadErr != nil {
				return
			}
		}
		e.explainer, e.loadErr = NewExplainer(m)
	})
	return e.explainer, e.loadErr
}

// ScoreRow scores extracted CVE features. Without a model it falls back to
// the heuristic when the engine allows it; a model that fails to load is
// always an error.
func (e *Engine) ScoreRow(row feature.Row) (*Result, error) {
	features := row.Mapping()

	ex, err := e.loadExplainer()
	if err != nil {
		if errors.Is(err, model.ErrModelUnavailable) && e.opts.AllowFallback {
			slog.Debug("no trained model, using heuristic", "cve", row.CVEID, "path", e.opts.ModelPath)
			return newResult(row.CVEID, ModeHeuristic, features, Heuristic{}), nil
		}
		return nil, err
	}

	if ex.Model().Vocabulary != feature.VocabularyCVSS {
		slog.Warn("model is not trained on CVE record features, missing features score as 0",
			"cve", row.CVEID, "vocabulary", ex.Model().Vocabulary)
	}
	return newResult(row.CVEID, ModeTrained, features, ex), nil
}

// ScoreRecord extracts features from a decoded CVE record and scores them.
func (e *Engine) ScoreRecord(rec map[string]any) (*Result, error) {
	return e.ScoreRow(feature.Extract(rec))
}

// ScoreJSON scores a raw CVE JSON document.
func (e *Engine) ScoreJSON(b []byte) (*Result, error) {
	row, err := feature.ExtractJSON(b)
	if err != nil {
		return nil, err
	}
	return e.ScoreRow(row)
}

// ScoreJSONs scores many documents concurrently. Results are in input order
// and the first error cancels the rest.
func (e *Engine) ScoreJSONs(ctx context.Context, docs [][]byte) ([]*Result, error) {
	results := make([]*Result, len(docs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)

	for i, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := e.ScoreJSON(doc)
			if err != nil {
				return errors.Wrapf(err, "document %d", i)
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ScoreEPSS scores a CVE by identifier from its EPSS features. It requires
// a trained model; there is no heuristic for EPSS features. The identifier is
// trimmed and upper-cased before the lookup and in the result.
func (e *Engine) ScoreEPSS(ctx context.Context, src EPSSSource, cveID string) (*Result, error) {
	if src == nil {
		return nil, errors.New("EPSS source required")
	}

	ex, err := e.loadExplainer()
	if err != nil {
		return nil, err
	}

	id := strings.ToUpper(strings.TrimSpace(cveID))
	features, err := src.EPSSFeatures(ctx, id)
	if err != nil {
		return nil, err
	}

	if ex.Model().Vocabulary != feature.VocabularyEPSS {
		slog.Warn("model is not trained on EPSS features, missing features score as 0",
			"cve", id, "vocabulary", ex.Model().Vocabulary)
	}
	return newResult(id, ModeTrainedEPSS, features, ex), nil
}
