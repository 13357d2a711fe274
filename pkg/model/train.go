package model

import (
	"log/slog"
	"math"
	"time"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	iterationsDefault = 1000
	toleranceDefault  = 1e-6
	inverseRegDefault = 1.0
)

// ErrSingleClass is returned when the training labels contain only one class.
var ErrSingleClass = errors.New("training data contains a single class")

// TrainOptions tune the gradient descent fit. Zero values use defaults.
type TrainOptions struct {
	// Iterations caps the number of full-batch gradient steps.
	Iterations int
	// LearningRate is the step size. Zero derives a stable step from the data.
	LearningRate float64
	// Tolerance stops the fit once the largest gradient component drops below it.
	Tolerance float64
	// C is the inverse L2 regularisation strength.
	C float64
}

func (o TrainOptions) withDefaults() TrainOptions {
	if o.Iterations <= 0 {
		o.Iterations = iterationsDefault
	}
	if o.Tolerance <= 0 {
		o.Tolerance = toleranceDefault
	}
	if o.C <= 0 {
		o.C = inverseRegDefault
	}
	return o
}

// Train fits an L2 regularised logistic regression on rows converted with
// feature.Vector in the given order. Classes are weighted n / (2 * n_class)
// so the rare exploited class is not drowned out. Labels must be 0 or 1.
func Train(order []string, rows []feature.Mapping, labels []int, opts TrainOptions) (*Model, error) {
	if len(order) == 0 {
		return nil, errors.New("feature order required")
	}
	if len(rows) == 0 {
		return nil, errors.New("training rows required")
	}
	if len(rows) != len(labels) {
		return nil, errors.Errorf("got %d rows and %d labels", len(rows), len(labels))
	}

	var pos int
	for i, y := range labels {
		switch y {
		case 1:
			pos++
		case 0:
		default:
			return nil, errors.Errorf("label %d at row %d is not 0 or 1", y, i)
		}
	}
	neg := len(labels) - pos
	if pos == 0 || neg == 0 {
		return nil, ErrSingleClass
	}

	opts = opts.withDefaults()
	x := feature.Matrix(order, rows)
	n := float64(len(rows))

	classWeight := [2]float64{n / (2 * float64(neg)), n / (2 * float64(pos))}
	sampleWeight := make([]float64, len(labels))
	for i, y := range labels {
		sampleWeight[i] = classWeight[y]
	}

	// objective: (1/n) * sum(s_i * logloss_i) + ||w||^2 / (2 * C * n)
	reg := 1 / (opts.C * n)

	lr := opts.LearningRate
	if lr <= 0 {
		lr = stableStep(x, reg)
	}

	w := make([]float64, len(order))
	gw := make([]float64, len(order))
	var b float64

	iter := 0
	for iter < opts.Iterations {
		iter++

		for j := range gw {
			gw[j] = reg * w[j]
		}
		var gb float64
		for i, xi := range x {
			r := sampleWeight[i] * (sigmoid(floats.Dot(w, xi)+b) - float64(labels[i])) / n
			floats.AddScaled(gw, r, xi)
			gb += r
		}

		floats.AddScaled(w, -lr, gw)
		b -= lr * gb

		if math.Max(floats.Norm(gw, math.Inf(1)), math.Abs(gb)) < opts.Tolerance {
			break
		}
	}

	m, err := New(order, w, b)
	if err != nil {
		return nil, errors.Wrap(err, "training produced an invalid model")
	}
	m.TrainedAt = time.Now().UTC()
	m.Summary = &TrainingSummary{
		Rows:       len(rows),
		Positives:  pos,
		Negatives:  neg,
		Iterations: iter,
		Loss:       weightedLogLoss(m, x, labels, sampleWeight),
	}

	slog.Debug("model trained", "rows", len(rows), "positives", pos, "iterations", iter, "loss", m.Summary.Loss)
	return m, nil
}

// stableStep returns 1/L where L bounds the curvature of the objective.
func stableStep(x [][]float64, reg float64) float64 {
	var maxSq float64
	for _, xi := range x {
		maxSq = math.Max(maxSq, floats.Dot(xi, xi)+1)
	}
	return 1 / (0.25*maxSq + reg)
}

func weightedLogLoss(m *Model, x [][]float64, labels []int, sampleWeight []float64) float64 {
	const eps = 1e-15
	var sum, total float64
	for i, xi := range x {
		p := math.Min(math.Max(sigmoid(m.decision(xi)), eps), 1-eps)
		if labels[i] == 1 {
			sum -= sampleWeight[i] * math.Log(p)
		} else {
			sum -= sampleWeight[i] * math.Log(1-p)
		}
		total += sampleWeight[i]
	}
	return sum / total
}
