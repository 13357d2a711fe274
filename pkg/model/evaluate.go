package model

import (
	"math"
	"math/rand/v2"
	"slices"
	"sort"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/pkg/errors"
)

const (
	// DecisionThreshold is the probability at which a row is predicted exploited.
	DecisionThreshold = 0.5
)

// PrecisionCutoffs are the k values reported as precision@k.
var PrecisionCutoffs = []int{25, 50, 100}

// Metrics summarises model quality on a labeled set.
type Metrics struct {
	Rows         int             `json:"rows" yaml:"rows"`
	Positives    int             `json:"positives" yaml:"positives"`
	PrecisionAtK map[int]float64 `json:"precision_at_k" yaml:"precision_at_k"`
	ROCAUC       *float64        `json:"roc_auc,omitempty" yaml:"roc_auc,omitempty"`
	Precision    float64         `json:"precision" yaml:"precision"`
	Recall       float64         `json:"recall" yaml:"recall"`
	F1           float64         `json:"f1" yaml:"f1"`
}

// EvaluateModel scores every row with m and evaluates against labels.
func EvaluateModel(m *Model, rows []feature.Mapping, labels []int) (*Metrics, error) {
	if m == nil {
		return nil, errors.New("model required")
	}
	probs := make([]float64, len(rows))
	for i, r := range rows {
		probs[i] = m.PredictProbability(r)
	}
	return Evaluate(probs, labels)
}

// Evaluate computes ranking and threshold metrics for predicted probabilities.
// ROC-AUC is only reported when both classes are present.
func Evaluate(probs []float64, labels []int) (*Metrics, error) {
	if len(probs) != len(labels) {
		return nil, errors.Errorf("got %d predictions and %d labels", len(probs), len(labels))
	}

	res := &Metrics{
		Rows:         len(labels),
		PrecisionAtK: make(map[int]float64, len(PrecisionCutoffs)),
	}

	var tp, fp, fn int
	for i, y := range labels {
		res.Positives += y
		predicted := probs[i] >= DecisionThreshold
		switch {
		case predicted && y == 1:
			tp++
		case predicted:
			fp++
		case y == 1:
			fn++
		}
	}
	res.Precision = ratio(tp, tp+fp)
	res.Recall = ratio(tp, tp+fn)
	if res.Precision+res.Recall > 0 {
		res.F1 = 2 * res.Precision * res.Recall / (res.Precision + res.Recall)
	}

	ranked := make([]int, len(probs))
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return probs[ranked[a]] > probs[ranked[b]] })

	for _, k := range PrecisionCutoffs {
		top := ranked[:min(k, len(ranked))]
		var hits int
		for _, i := range top {
			hits += labels[i]
		}
		res.PrecisionAtK[k] = ratio(hits, max(1, len(top)))
	}

	if auc, ok := rocAUC(probs, labels); ok {
		res.ROCAUC = &auc
	}
	return res, nil
}

// rocAUC uses the rank-sum formulation with tied scores given their mean rank.
func rocAUC(probs []float64, labels []int) (float64, bool) {
	var pos int
	for _, y := range labels {
		pos += y
	}
	neg := len(labels) - pos
	if pos == 0 || neg == 0 {
		return 0, false
	}

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] < probs[idx[b]] })

	var rankSum float64
	for start := 0; start < len(idx); {
		end := start
		for end+1 < len(idx) && probs[idx[end+1]] == probs[idx[start]] {
			end++
		}
		mean := float64(start+end)/2 + 1
		for _, i := range idx[start : end+1] {
			if labels[i] == 1 {
				rankSum += mean
			}
		}
		start = end + 1
	}

	p, n := float64(pos), float64(neg)
	return (rankSum - p*(p+1)/2) / (p * n), true
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Split partitions row indexes into train and test sets. The split is
// stratified by label when each class has at least two rows. The same seed
// always yields the same split.
func Split(labels []int, testFraction float64, seed uint64) (train, test []int) {
	if testFraction <= 0 || testFraction >= 1 || len(labels) < 2 {
		train = make([]int, len(labels))
		for i := range train {
			train[i] = i
		}
		return train, nil
	}

	r := rand.New(rand.NewPCG(seed, seed))

	var byClass [2][]int
	for i, y := range labels {
		byClass[min(max(y, 0), 1)] = append(byClass[min(max(y, 0), 1)], i)
	}

	groups := [][]int{byClass[0], byClass[1]}
	if len(byClass[0]) < 2 || len(byClass[1]) < 2 {
		all := make([]int, len(labels))
		for i := range all {
			all[i] = i
		}
		groups = [][]int{all}
	}

	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		r.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		nTest := int(math.Ceil(testFraction * float64(len(g))))
		nTest = min(nTest, len(g)-1)
		test = append(test, g[:nTest]...)
		train = append(train, g[nTest:]...)
	}

	slices.Sort(train)
	slices.Sort(test)
	return train, test
}
