package ml

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	Undecided = 0
	Confirmed = 1
	Rejected  = -1
)

// Boruta selects all-relevant features by comparing each feature with shuffled shadow copies.
type Boruta struct {
	// NEstimators <= 0 sizes the forest from the number of active features.
	NEstimators int
	MaxDepth    int
	MaxIter     int
	Alpha       float64
	Perc        float64
	TwoStep     bool
	Seed        int64

	NewEstimator EstimatorFactory
}

type BorutaResult struct {
	Decisions  []int `json:"decisions"`
	Hits       []int `json:"hits"`
	Iterations int   `json:"iterations"`
}

func NewBoruta(seed int64) *Boruta {
	return &Boruta{
		MaxIter: 100,
		Alpha:   0.05,
		Perc:    100,
		TwoStep: true,
		Seed:    seed,
	}
}

func (r *BorutaResult) Confirmed() []int { return r.withDecision(Confirmed) }
func (r *BorutaResult) Tentative() []int { return r.withDecision(Undecided) }
func (r *BorutaResult) Rejected() []int  { return r.withDecision(Rejected) }

func (r *BorutaResult) withDecision(d int) []int {
	out := make([]int, 0, len(r.Decisions))
	for j, v := range r.Decisions {
		if v == d {
			out = append(out, j)
		}
	}
	return out
}

func (b *Boruta) Fit(ctx context.Context, X *mat.Dense, y []int) (*BorutaResult, error) {
	n, p, err := checkFitInput(X, y)
	if err != nil {
		return nil, err
	}
	if b.MaxIter < 2 {
		return nil, eris.Errorf("boruta: max_iter must be at least 2, got %d", b.MaxIter)
	}
	if b.Alpha <= 0 || b.Alpha >= 1 {
		return nil, eris.Errorf("boruta: alpha must be in (0,1), got %g", b.Alpha)
	}
	newEstimator := b.NewEstimator
	if newEstimator == nil {
		newEstimator = b.defaultEstimator
	}

	rng := rand.New(rand.NewSource(b.Seed))
	decisions := make([]int, p)
	hits := make([]int, p)

	iter := 1
	for ; hasUndecided(decisions) && iter < b.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "boruta")
		}

		active := activeFeatures(decisions)
		withShadows := addShadows(X, active, rng)
		_, width := withShadows.Dims()

		nTrees := b.NEstimators
		if nTrees <= 0 {
			nTrees = b.autoTrees(len(active))
		}
		estimator := newEstimator(nTrees, rng.Int63())
		if err := estimator.Fit(withShadows, y); err != nil {
			return nil, eris.Wrapf(err, "boruta: iteration %d", iter)
		}
		imp := estimator.FeatureImportances()
		if len(imp) != width {
			return nil, eris.Errorf("boruta: estimator returned %d importances, want %d", len(imp), width)
		}

		shadowMax := b.shadowThreshold(imp[len(active):])
		for k, j := range active {
			if imp[k] > shadowMax {
				hits[j]++
			}
		}
		b.test(decisions, hits, iter)

		zap.L().Debug("boruta iteration",
			zap.Int("iteration", iter),
			zap.Int("trees", nTrees),
			zap.Int("samples", n),
			zap.Ints("decisions", decisions),
		)
	}

	return &BorutaResult{Decisions: decisions, Hits: hits, Iterations: iter - 1}, nil
}

func (b *Boruta) defaultEstimator(nTrees int, seed int64) ImportanceEstimator {
	rf := NewRandomForest(nTrees, seed)
	rf.MaxDepth = b.MaxDepth
	return rf
}

// autoTrees mirrors the usual heuristic of about 100 trees per 10 levels of depth.
func (b *Boruta) autoTrees(nActive int) int {
	depth := float64(b.MaxDepth)
	if depth <= 0 {
		depth = 10
	}
	f := float64(nActive * 2)
	trees := int(f / (math.Sqrt(f) * depth) * 100)
	if trees < 1 {
		trees = 1
	}
	return trees
}

func (b *Boruta) shadowThreshold(shadow []float64) float64 {
	if b.Perc <= 0 || b.Perc >= 100 {
		return floats.Max(shadow)
	}
	sorted := make([]float64, len(shadow))
	copy(sorted, shadow)
	sort.Float64s(sorted)
	return stat.Quantile(b.Perc/100, stat.LinInterp, sorted, nil)
}

// test updates decisions in place from the binomial hit counts after iter rounds.
func (b *Boruta) test(decisions, hits []int, iter int) {
	active := activeFeatures(decisions)
	dist := distuv.Binomial{N: float64(iter), P: 0.5}

	acceptP := make([]float64, len(active))
	rejectP := make([]float64, len(active))
	for k, j := range active {
		h := float64(hits[j])
		acceptP[k] = dist.Survival(h - 1)
		rejectP[k] = dist.CDF(h)
	}

	var accept, reject []bool
	bonferroni := b.Alpha / float64(iter)
	if b.TwoStep {
		accept = fdrReject(acceptP, b.Alpha)
		reject = fdrReject(rejectP, b.Alpha)
		for k := range active {
			accept[k] = accept[k] && acceptP[k] <= bonferroni
			reject[k] = reject[k] && rejectP[k] <= bonferroni
		}
	} else {
		accept = make([]bool, len(active))
		reject = make([]bool, len(active))
		for k := range active {
			accept[k] = acceptP[k] <= bonferroni
			reject[k] = rejectP[k] <= bonferroni
		}
	}

	for k, j := range active {
		if decisions[j] != Undecided {
			continue
		}
		switch {
		case accept[k]:
			decisions[j] = Confirmed
		case reject[k]:
			decisions[j] = Rejected
		}
	}
}

// fdrReject is the Benjamini-Hochberg step-up procedure.
func fdrReject(pvals []float64, alpha float64) []bool {
	n := len(pvals)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool { return pvals[order[a]] < pvals[order[c]] })

	last := -1
	for rank, i := range order {
		if pvals[i] <= float64(rank+1)/float64(n)*alpha {
			last = rank
		}
	}
	out := make([]bool, n)
	for rank := 0; rank <= last; rank++ {
		out[order[rank]] = true
	}
	return out
}

func hasUndecided(decisions []int) bool {
	for _, d := range decisions {
		if d == Undecided {
			return true
		}
	}
	return false
}

func activeFeatures(decisions []int) []int {
	out := make([]int, 0, len(decisions))
	for j, d := range decisions {
		if d != Rejected {
			out = append(out, j)
		}
	}
	return out
}

// addShadows returns [X_active | shuffled copies], with at least five shadow columns.
func addShadows(X *mat.Dense, active []int, rng *rand.Rand) *mat.Dense {
	n, _ := X.Dims()
	nShadow := len(active)
	for nShadow < 5 {
		nShadow *= 2
	}
	out := mat.NewDense(n, len(active)+nShadow, nil)
	col := make([]float64, n)
	for k, j := range active {
		mat.Col(col, j, X)
		out.SetCol(k, col)
	}
	for s := 0; s < nShadow; s++ {
		mat.Col(col, active[s%len(active)], X)
		rng.Shuffle(n, func(a, c int) { col[a], col[c] = col[c], col[a] })
		out.SetCol(len(active)+s, col)
	}
	return out
}
