package ml

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

type RandomForest struct {
	NTrees      int
	MaxDepth    int
	MaxFeatures int
	Seed        int64
	// Balanced reweights classes inversely to their frequency.
	Balanced bool
	Workers  int

	trees       []*DecisionTree
	importances []float64
}

func NewRandomForest(nTrees int, seed int64) *RandomForest {
	return &RandomForest{
		NTrees:   nTrees,
		Seed:     seed,
		Balanced: true,
	}
}

func (rf *RandomForest) Fit(X *mat.Dense, y []int) error {
	return rf.FitContext(context.Background(), X, y)
}

func (rf *RandomForest) FitContext(ctx context.Context, X *mat.Dense, y []int) error {
	n, p, err := checkFitInput(X, y)
	if err != nil {
		return err
	}
	nTrees := rf.NTrees
	if nTrees <= 0 {
		nTrees = 100
	}
	maxFeatures := rf.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = int(math.Sqrt(float64(p)))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}
	classWeight := [2]float64{1, 1}
	if rf.Balanced {
		classWeight = balancedClassWeights(y)
	}

	// seeds are drawn up front so results do not depend on scheduling
	master := rand.New(rand.NewSource(rf.Seed))
	seeds := make([]int64, nTrees)
	for t := range seeds {
		seeds[t] = master.Int63()
	}

	trees := make([]*DecisionTree, nTrees)
	g, ctx := errgroup.WithContext(ctx)
	workers := rf.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)

	for t := 0; t < nTrees; t++ {
		t := t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seeds[t]))
			weights := make([]float64, n)
			for k := 0; k < n; k++ {
				weights[rng.Intn(n)]++
			}
			for i := range weights {
				weights[i] *= classWeight[y[i]]
			}
			tree := &DecisionTree{
				MaxDepth:    rf.MaxDepth,
				MaxFeatures: maxFeatures,
				Seed:        rng.Int63(),
			}
			if err := tree.FitWeighted(X, y, weights); err != nil {
				return err
			}
			trees[t] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rf.trees = trees
	rf.importances = forestImportances(trees, p)
	return nil
}

func (rf *RandomForest) Predict(features []float64) (int, float64, error) {
	if len(rf.trees) == 0 {
		return 0, 0, errNotTrained
	}
	var proba [2]float64
	for _, tree := range rf.trees {
		p, err := tree.PredictProba(features)
		if err != nil {
			return 0, 0, err
		}
		proba[0] += p[0]
		proba[1] += p[1]
	}
	label := majorityLabel(proba)
	return label, proba[label] / float64(len(rf.trees)), nil
}

func (rf *RandomForest) FeatureImportances() []float64 {
	out := make([]float64, len(rf.importances))
	copy(out, rf.importances)
	return out
}

func forestImportances(trees []*DecisionTree, p int) []float64 {
	sum := make([]float64, p)
	counted := 0
	for _, tree := range trees {
		if tree.NodeCount() <= 1 {
			continue
		}
		counted++
		for j, v := range tree.importances {
			sum[j] += v
		}
	}
	if counted == 0 {
		return sum
	}
	for j := range sum {
		sum[j] /= float64(counted)
	}
	return normalize(sum)
}

// balancedClassWeights returns n_samples / (n_classes * count) per class.
func balancedClassWeights(y []int) [2]float64 {
	var counts [2]float64
	for _, label := range y {
		counts[label]++
	}
	var weights [2]float64
	for c := range counts {
		if counts[c] > 0 {
			weights[c] = float64(len(y)) / (2 * counts[c])
		}
	}
	return weights
}
