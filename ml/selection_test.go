package ml

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// informativeData has column 0 tied to the label and columns 1.. drawn at random.
func informativeData(n, noise int, seed int64) (*mat.Dense, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := mat.NewDense(n, 1+noise, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		y[i] = i % 2
		row := X.RawRowView(i)
		row[0] = float64(y[i]*2+rng.Intn(2)) + rng.Float64()*0.1
		for j := 1; j <= noise; j++ {
			row[j] = float64(rng.Intn(4))
		}
	}
	return X, y
}

func TestRandomForest(t *testing.T) {
	X, y := informativeData(200, 2, 1)

	rf := NewRandomForest(30, 42)
	require.NoError(t, rf.Fit(X, y))

	imp := rf.FeatureImportances()
	require.Len(t, imp, 3)
	assert.InDelta(t, 1.0, imp[0]+imp[1]+imp[2], 1e-9)
	assert.Greater(t, imp[0], imp[1])
	assert.Greater(t, imp[0], imp[2])

	label, confidence, err := rf.Predict(X.RawRowView(0))
	require.NoError(t, err)
	assert.Equal(t, y[0], label)
	assert.GreaterOrEqual(t, confidence, 0.5)
}

func TestRandomForest_Deterministic(t *testing.T) {
	X, y := informativeData(120, 3, 7)

	a := NewRandomForest(20, 5)
	a.Workers = 1
	b := NewRandomForest(20, 5)
	b.Workers = 8
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.FeatureImportances(), b.FeatureImportances())
}

func TestRandomForest_Cancelled(t *testing.T) {
	X, y := informativeData(50, 1, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, NewRandomForest(10, 1).FitContext(ctx, X, y))
}

func TestBalancedClassWeights(t *testing.T) {
	w := balancedClassWeights([]int{0, 0, 0, 1})
	assert.InDelta(t, 4.0/6.0, w[0], 1e-12)
	assert.InDelta(t, 2.0, w[1], 1e-12)
}

type fixedImportance struct {
	real  []float64
	width int
}

func (f *fixedImportance) Fit(X *mat.Dense, _ []int) error {
	_, f.width = X.Dims()
	return nil
}

func (f *fixedImportance) FeatureImportances() []float64 {
	out := make([]float64, f.width)
	for j := range out {
		out[j] = 0.5
	}
	copy(out, f.real)
	return out
}

func TestBoruta_Decisions(t *testing.T) {
	X := mat.NewDense(10, 2, nil)
	y := []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}

	b := NewBoruta(1)
	b.NewEstimator = func(int, int64) ImportanceEstimator {
		return &fixedImportance{real: []float64{1, 0}}
	}
	res, err := b.Fit(context.Background(), X, y)
	require.NoError(t, err)

	assert.Equal(t, []int{Confirmed, Rejected}, res.Decisions)
	assert.Equal(t, []int{0}, res.Confirmed())
	assert.Equal(t, []int{1}, res.Rejected())
	assert.Empty(t, res.Tentative())
	// 0.5^8 is the first tail probability under alpha/iter
	assert.Equal(t, 8, res.Iterations)
	assert.Equal(t, []int{8, 0}, res.Hits)
}

func TestBoruta_MaxIterLeavesTentative(t *testing.T) {
	X := mat.NewDense(10, 1, nil)
	y := []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1}

	b := NewBoruta(1)
	b.MaxIter = 5
	b.NewEstimator = func(int, int64) ImportanceEstimator {
		return &fixedImportance{real: []float64{1}}
	}
	res, err := b.Fit(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Tentative())
	assert.Equal(t, 4, res.Iterations)
}

func TestBoruta_RandomForest(t *testing.T) {
	X, y := informativeData(300, 2, 11)

	res, err := NewBoruta(42).Fit(context.Background(), X, y)
	require.NoError(t, err)
	assert.Equal(t, Confirmed, res.Decisions[0])
	assert.NotEqual(t, Confirmed, res.Decisions[1])
	assert.NotEqual(t, Confirmed, res.Decisions[2])
}

func TestBoruta_AutoTrees(t *testing.T) {
	b := NewBoruta(0)
	assert.Equal(t, 37, b.autoTrees(7))
	assert.Equal(t, 20, b.autoTrees(2))
}

func TestFdrReject(t *testing.T) {
	got := fdrReject([]float64{0.01, 0.04, 0.02, 0.5}, 0.05)
	assert.Equal(t, []bool{true, false, true, false}, got)
}

func TestAddShadows(t *testing.T) {
	X := mat.NewDense(4, 3, []float64{
		1, 10, 100,
		2, 20, 200,
		3, 30, 300,
		4, 40, 400,
	})
	out := addShadows(X, []int{0, 2}, rand.New(rand.NewSource(1)))
	_, c := out.Dims()
	// two active columns doubled until at least five shadows
	assert.Equal(t, 2+8, c)
	assert.Equal(t, []float64{1, 2, 3, 4}, mat.Col(nil, 0, out))
	assert.Equal(t, []float64{100, 200, 300, 400}, mat.Col(nil, 1, out))
	assert.ElementsMatch(t, []float64{1, 2, 3, 4}, mat.Col(nil, 2, out))
	assert.ElementsMatch(t, []float64{100, 200, 300, 400}, mat.Col(nil, 3, out))
}
