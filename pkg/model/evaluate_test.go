package model

import (
	"testing"

	"github.com/mchmarny/day0/pkg/feature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Perfect(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.2, 0.1}
	labels := []int{1, 1, 0, 0}

	res, err := Evaluate(probs, labels)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Rows)
	assert.Equal(t, 2, res.Positives)
	require.NotNil(t, res.ROCAUC)
	assert.Equal(t, 1.0, *res.ROCAUC)
	assert.Equal(t, 1.0, res.Precision)
	assert.Equal(t, 1.0, res.Recall)
	assert.Equal(t, 1.0, res.F1)
	// fewer rows than k: precision over what is there
	assert.Equal(t, 0.5, res.PrecisionAtK[25])
}

func TestEvaluate_Inverted(t *testing.T) {
	res, err := Evaluate([]float64{0.1, 0.2, 0.8, 0.9}, []int{1, 1, 0, 0})
	require.NoError(t, err)
	require.NotNil(t, res.ROCAUC)
	assert.Equal(t, 0.0, *res.ROCAUC)
	assert.Equal(t, 0.0, res.Precision)
	assert.Equal(t, 0.0, res.F1)
}

func TestEvaluate_Ties(t *testing.T) {
	res, err := Evaluate([]float64{0.5, 0.5, 0.5, 0.5}, []int{1, 0, 1, 0})
	require.NoError(t, err)
	require.NotNil(t, res.ROCAUC)
	assert.Equal(t, 0.5, *res.ROCAUC)
}

func TestEvaluate_SingleClassNoAUC(t *testing.T) {
	res, err := Evaluate([]float64{0.3, 0.7}, []int{0, 0})
	require.NoError(t, err)
	assert.Nil(t, res.ROCAUC)
	assert.Equal(t, 0.0, res.Recall)
}

func TestEvaluate_PrecisionAtK(t *testing.T) {
	probs := make([]float64, 200)
	labels := make([]int, 200)
	for i := range probs {
		probs[i] = 1 - float64(i)/200
		if i < 30 {
			labels[i] = 1
		}
	}
	res, err := Evaluate(probs, labels)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.PrecisionAtK[25])
	assert.Equal(t, 0.6, res.PrecisionAtK[50])
	assert.Equal(t, 0.3, res.PrecisionAtK[100])
}

func TestEvaluate_Mismatch(t *testing.T) {
	_, err := Evaluate([]float64{0.1}, nil)
	assert.Error(t, err)
}

func TestEvaluate_Empty(t *testing.T) {
	res, err := Evaluate(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.PrecisionAtK[25])
	assert.Nil(t, res.ROCAUC)
}

func TestEvaluateModel(t *testing.T) {
	rows, labels := epssDataset()
	m, err := Train(feature.EPSSOrder, rows, labels, TrainOptions{})
	require.NoError(t, err)

	res, err := EvaluateModel(m, rows, labels)
	require.NoError(t, err)
	require.NotNil(t, res.ROCAUC)
	assert.Greater(t, *res.ROCAUC, 0.9)

	_, err = EvaluateModel(nil, rows, labels)
	assert.Error(t, err)
}

func TestSplit_Stratified(t *testing.T) {
	labels := make([]int, 100)
	for i := range 20 {
		labels[i] = 1
	}

	train, test := Split(labels, 0.25, 42)
	assert.Len(t, test, 25)
	assert.Len(t, train, 75)

	var pos int
	for _, i := range test {
		pos += labels[i]
	}
	assert.Equal(t, 5, pos)

	seen := make(map[int]bool)
	for _, i := range append(append([]int{}, train...), test...) {
		assert.False(t, seen[i])
		seen[i] = true
	}
	assert.Len(t, seen, 100)
}

func TestSplit_Deterministic(t *testing.T) {
	labels := []int{0, 1, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0}
	a1, b1 := Split(labels, 0.25, 42)
	a2, b2 := Split(labels, 0.25, 42)
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
}

func TestSplit_Unstratified(t *testing.T) {
	labels := []int{0, 0, 0, 0, 0, 0, 0, 1}
	train, test := Split(labels, 0.25, 42)
	assert.Len(t, test, 2)
	assert.Len(t, train, 6)
}

func TestSplit_NoTest(t *testing.T) {
	train, test := Split([]int{0, 1, 1}, 0, 42)
	assert.Equal(t, []int{0, 1, 2}, train)
	assert.Empty(t, test)
}
