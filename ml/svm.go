package ml

import (
	"encoding/json"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const tau = 1e-12

// SVC is a binary C-support vector classifier with an RBF kernel. Class 1 is the positive side.
type SVC struct {
	C float64 `json:"c"`
	// Gamma <= 0 selects 1 / (n_features * Var(X)) when fitting.
	Gamma       float64 `json:"gamma"`
	Tol         float64 `json:"tol"`
	Probability bool    `json:"probability"`
	Folds       int     `json:"folds"`
	Seed        int64   `json:"seed"`
	CacheRows   int     `json:"-"`

	KernelGamma    float64     `json:"kernel_gamma"`
	SupportVectors [][]float64 `json:"support_vectors"`
	DualCoef       []float64   `json:"dual_coef"`
	Rho            float64     `json:"rho"`
	ProbA          float64     `json:"prob_a"`
	ProbB          float64     `json:"prob_b"`
	NFeatures      int         `json:"n_features"`
	Iterations     int         `json:"iterations"`

	svNorms []float64
}

func NewSVC() *SVC {
	return &SVC{
		C:           1,
		Tol:         1e-3,
		Probability: true,
		Folds:       5,
		CacheRows:   512,
	}
}

func (s *SVC) Fit(X *mat.Dense, y []int) error {
	n, p, err := checkFitInput(X, y)
	if err != nil {
		return err
	}
	if s.C <= 0 {
		return eris.Errorf("svc: C must be positive, got %g", s.C)
	}
	var counts [2]int
	for _, label := range y {
		counts[label]++
	}
	if counts[0] == 0 || counts[1] == 0 {
		return errSingleClass
	}

	s.NFeatures = p
	s.KernelGamma = s.Gamma
	if s.KernelGamma <= 0 {
		s.KernelGamma = scaleGamma(X)
	}

	if s.Probability {
		dec, err := s.crossValidatedDecisions(X, y)
		if err != nil {
			return err
		}
		s.ProbA, s.ProbB = plattScale(dec, y)
	}

	rows := denseRows(X)
	signs := make([]float64, n)
	for i, label := range y {
		signs[i] = labelSign(label)
	}
	sol, err := s.solve(rows, signs)
	if err != nil {
		return err
	}

	s.SupportVectors = s.SupportVectors[:0]
	s.DualCoef = s.DualCoef[:0]
	for i, a := range sol.alpha {
		if a > 0 {
			s.SupportVectors = append(s.SupportVectors, rows[i])
			s.DualCoef = append(s.DualCoef, a*signs[i])
		}
	}
	s.Rho = sol.rho
	s.Iterations = sol.iterations
	s.svNorms = supportNorms(s.SupportVectors)

	zap.L().Debug("svc fitted",
		zap.Int("samples", n),
		zap.Int("support_vectors", len(s.SupportVectors)),
		zap.Int("iterations", sol.iterations),
		zap.Float64("gamma", s.KernelGamma),
	)
	return nil
}

// DecisionFunction returns the signed distance of x to the separating surface.
func (s *SVC) DecisionFunction(x []float64) (float64, error) {
	if len(s.SupportVectors) == 0 {
		return 0, errNotTrained
	}
	if len(x) != s.NFeatures {
		return 0, eris.Errorf("svc: expected %d features, got %d", s.NFeatures, len(x))
	}
	norms := s.svNorms
	if len(norms) != len(s.SupportVectors) {
		norms = supportNorms(s.SupportVectors)
	}
	xx := floats.Dot(x, x)
	sum := 0.0
	for i, sv := range s.SupportVectors {
		sum += s.DualCoef[i] * rbf(s.KernelGamma, norms[i], xx, floats.Dot(sv, x))
	}
	return sum - s.Rho, nil
}

func (s *SVC) Predict(features []float64) (int, float64, error) {
	dec, err := s.DecisionFunction(features)
	if err != nil {
		return 0, 0, err
	}
	label := 0
	if dec > 0 {
		label = 1
	}
	if !s.Probability {
		return label, 0, nil
	}
	p1 := sigmoidPredict(dec, s.ProbA, s.ProbB)
	if label == 1 {
		return label, p1, nil
	}
	return label, 1 - p1, nil
}

// PredictProba returns [P(class 0), P(class 1)].
func (s *SVC) PredictProba(features []float64) ([2]float64, error) {
	if !s.Probability {
		return [2]float64{}, eris.New("svc: model was fitted without probability estimates")
	}
	dec, err := s.DecisionFunction(features)
	if err != nil {
		return [2]float64{}, err
	}
	p1 := sigmoidPredict(dec, s.ProbA, s.ProbB)
	return [2]float64{1 - p1, p1}, nil
}

func (s *SVC) UnmarshalJSON(data []byte) error {
	type plain SVC
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if len(p.SupportVectors) != len(p.DualCoef) {
		return eris.Errorf("svc: %d support vectors but %d coefficients", len(p.SupportVectors), len(p.DualCoef))
	}
	for i, sv := range p.SupportVectors {
		if len(sv) != p.NFeatures {
			return eris.Errorf("svc: support vector %d has %d features, want %d", i, len(sv), p.NFeatures)
		}
	}
	*s = SVC(p)
	s.svNorms = supportNorms(s.SupportVectors)
	return nil
}

func supportNorms(svs [][]float64) []float64 {
	norms := make([]float64, len(svs))
	for i, sv := range svs {
		norms[i] = floats.Dot(sv, sv)
	}
	return norms
}

func (s *SVC) crossValidatedDecisions(X *mat.Dense, y []int) ([]float64, error) {
	folds := s.Folds
	if folds < 2 {
		folds = 5
	}
	testFolds, err := StratifiedKFold(y, folds, s.Seed)
	if err != nil {
		return nil, eris.Wrap(err, "svc: probability folds")
	}

	dec := make([]float64, len(y))
	for _, held := range testFolds {
		if len(held) == 0 {
			continue
		}
		trainIdx := complement(len(y), held)
		trainY := subset(y, trainIdx)

		var counts [2]int
		for _, label := range trainY {
			counts[label]++
		}
		switch {
		case counts[1] > 0 && counts[0] == 0:
			fill(dec, held, 1)
			continue
		case counts[0] > 0 && counts[1] == 0:
			fill(dec, held, -1)
			continue
		}

		sub := &SVC{C: s.C, Gamma: s.KernelGamma, Tol: s.Tol, CacheRows: s.CacheRows}
		if err := sub.Fit(SelectRows(X, trainIdx), trainY); err != nil {
			return nil, eris.Wrap(err, "svc: probability fold")
		}
		for _, i := range held {
			d, err := sub.DecisionFunction(X.RawRowView(i))
			if err != nil {
				return nil, err
			}
			dec[i] = d
		}
	}
	return dec, nil
}

type solution struct {
	alpha      []float64
	rho        float64
	iterations int
}

// solve runs SMO with second-order working set selection on the C-SVC dual.
func (s *SVC) solve(x [][]float64, y []float64) (*solution, error) {
	l := len(x)
	q, err := newKernelCache(x, y, s.KernelGamma, s.CacheRows)
	if err != nil {
		return nil, err
	}
	eps := s.Tol
	if eps <= 0 {
		eps = 1e-3
	}
	c := s.C

	alpha := make([]float64, l)
	grad := make([]float64, l)
	for i := range grad {
		grad[i] = -1
	}
	upper := func(t int) bool { return alpha[t] >= c }
	lower := func(t int) bool { return alpha[t] <= 0 }

	maxIter := 100 * l
	if maxIter < 10000000 {
		maxIter = 10000000
	}

	iter := 0
	for ; iter < maxIter; iter++ {
		i, j, optimal := selectWorkingSet(q, y, grad, upper, lower, eps)
		if optimal {
			break
		}

		qi := q.row(i)
		qj := q.row(j)
		oldI, oldJ := alpha[i], alpha[j]

		if y[i] != y[j] {
			quad := q.diag(i) + q.diag(j) + 2*qi[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (-grad[i] - grad[j]) / quad
			diff := alpha[i] - alpha[j]
			alpha[i] += delta
			alpha[j] += delta
			if diff > 0 {
				if alpha[j] < 0 {
					alpha[j] = 0
					alpha[i] = diff
				}
			} else if alpha[i] < 0 {
				alpha[i] = 0
				alpha[j] = -diff
			}
			if diff > 0 {
				if alpha[i] > c {
					alpha[i] = c
					alpha[j] = c - diff
				}
			} else if alpha[j] > c {
				alpha[j] = c
				alpha[i] = c + diff
			}
		} else {
			quad := q.diag(i) + q.diag(j) - 2*qi[j]
			if quad <= 0 {
				quad = tau
			}
			delta := (grad[i] - grad[j]) / quad
			sum := alpha[i] + alpha[j]
			alpha[i] -= delta
			alpha[j] += delta
			if sum > c {
				if alpha[i] > c {
					alpha[i] = c
					alpha[j] = sum - c
				}
			} else if alpha[j] < 0 {
				alpha[j] = 0
				alpha[i] = sum
			}
			if sum > c {
				if alpha[j] > c {
					alpha[j] = c
					alpha[i] = sum - c
				}
			} else if alpha[i] < 0 {
				alpha[i] = 0
				alpha[j] = sum
			}
		}

		dI := alpha[i] - oldI
		dJ := alpha[j] - oldJ
		for k := 0; k < l; k++ {
			grad[k] += qi[k]*dI + qj[k]*dJ
		}
	}
	if iter == maxIter {
		zap.L().Warn("svc solver reached iteration limit", zap.Int("iterations", iter))
	}

	return &solution{
		alpha:      alpha,
		rho:        calculateRho(y, grad, upper, lower),
		iterations: iter,
	}, nil
}

func selectWorkingSet(q *kernelCache, y, grad []float64, upper, lower func(int) bool, eps float64) (int, int, bool) {
	gmax := math.Inf(-1)
	gmax2 := math.Inf(-1)
	gmaxIdx, gminIdx := -1, -1
	objDiffMin := math.Inf(1)

	for t := range y {
		if y[t] == 1 {
			if !upper(t) && -grad[t] >= gmax {
				gmax = -grad[t]
				gmaxIdx = t
			}
		} else if !lower(t) && grad[t] >= gmax {
			gmax = grad[t]
			gmaxIdx = t
		}
	}
	if gmaxIdx == -1 {
		return 0, 0, true
	}

	i := gmaxIdx
	qi := q.row(i)
	for j := range y {
		var gradDiff, quad float64
		if y[j] == 1 {
			if lower(j) {
				continue
			}
			gradDiff = gmax + grad[j]
			if grad[j] >= gmax2 {
				gmax2 = grad[j]
			}
			quad = q.diag(i) + q.diag(j) - 2*y[i]*qi[j]
		} else {
			if upper(j) {
				continue
			}
			gradDiff = gmax - grad[j]
			if -grad[j] >= gmax2 {
				gmax2 = -grad[j]
			}
			quad = q.diag(i) + q.diag(j) + 2*y[i]*qi[j]
		}
		if gradDiff <= 0 {
			continue
		}
		if quad <= 0 {
			quad = tau
		}
		objDiff := -(gradDiff * gradDiff) / quad
		if objDiff <= objDiffMin {
			gminIdx = j
			objDiffMin = objDiff
		}
	}

	if gmax+gmax2 < eps || gminIdx == -1 {
		return 0, 0, true
	}
	return i, gminIdx, false
}

func calculateRho(y, grad []float64, upper, lower func(int) bool) float64 {
	ub := math.Inf(1)
	lb := math.Inf(-1)
	nFree := 0
	sumFree := 0.0
	for i := range y {
		yg := y[i] * grad[i]
		switch {
		case upper(i):
			if y[i] == -1 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		case lower(i):
			if y[i] == 1 {
				ub = math.Min(ub, yg)
			} else {
				lb = math.Max(lb, yg)
			}
		default:
			nFree++
			sumFree += yg
		}
	}
	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}

// kernelCache serves rows of Q = y_i y_j K(x_i, x_j) from an LRU cache.
type kernelCache struct {
	x     [][]float64
	y     []float64
	norms []float64
	gamma float64
	rows  *lru.Cache[int, []float64]
}

func newKernelCache(x [][]float64, y []float64, gamma float64, size int) (*kernelCache, error) {
	if size < 2 {
		size = 2
	}
	rows, err := lru.New[int, []float64](size)
	if err != nil {
		return nil, eris.Wrap(err, "svc: kernel cache")
	}
	norms := make([]float64, len(x))
	for i, xi := range x {
		norms[i] = floats.Dot(xi, xi)
	}
	return &kernelCache{x: x, y: y, norms: norms, gamma: gamma, rows: rows}, nil
}

func (k *kernelCache) row(i int) []float64 {
	if r, ok := k.rows.Get(i); ok {
		return r
	}
	r := make([]float64, len(k.x))
	for j := range k.x {
		r[j] = k.y[i] * k.y[j] * rbf(k.gamma, k.norms[i], k.norms[j], floats.Dot(k.x[i], k.x[j]))
	}
	k.rows.Add(i, r)
	return r
}

// diag is Q_ii, always 1 for the RBF kernel.
func (k *kernelCache) diag(int) float64 {
	return 1
}

func rbf(gamma, aa, bb, ab float64) float64 {
	d := aa + bb - 2*ab
	if d < 0 {
		d = 0
	}
	return math.Exp(-gamma * d)
}

func scaleGamma(X *mat.Dense) float64 {
	n, p := X.Dims()
	all := make([]float64, 0, n*p)
	for i := 0; i < n; i++ {
		all = append(all, X.RawRowView(i)...)
	}
	v := stat.PopVariance(all, nil)
	if v == 0 {
		return 1
	}
	return 1 / (float64(p) * v)
}

func labelSign(label int) float64 {
	if label == 1 {
		return 1
	}
	return -1
}

func denseRows(X *mat.Dense) [][]float64 {
	n, p := X.Dims()
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = make([]float64, p)
		copy(rows[i], X.RawRowView(i))
	}
	return rows
}

// SelectRows copies the listed rows of X in the given order.
func SelectRows(X *mat.Dense, idx []int) *mat.Dense {
	_, p := X.Dims()
	out := mat.NewDense(len(idx), p, nil)
	for k, i := range idx {
		copy(out.RawRowView(k), X.RawRowView(i))
	}
	return out
}

func fill(dst []float64, idx []int, v float64) {
	for _, i := range idx {
		dst[i] = v
	}
}
