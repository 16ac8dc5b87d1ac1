package ml

import (
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var _ Transformer = (*StandardScaler)(nil)

type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(X *mat.Dense) error {
	if X == nil || X.IsEmpty() {
		return errEmptyInput
	}
	n, p := X.Dims()
	s.Mean = make([]float64, p)
	s.Scale = make([]float64, p)

	col := make([]float64, n)
	for j := 0; j < p; j++ {
		mat.Col(col, j, X)
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		// constant columns are centred but not scaled
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
	return nil
}

func (s *StandardScaler) Transform(X *mat.Dense) (*mat.Dense, error) {
	if X == nil || X.IsEmpty() {
		return nil, errEmptyInput
	}
	n, p := X.Dims()
	if p != len(s.Mean) {
		return nil, eris.Errorf("scaler fitted on %d columns, got %d", len(s.Mean), p)
	}
	out := mat.NewDense(n, p, nil)
	for i := 0; i < n; i++ {
		s.transformInto(X.RawRowView(i), out.RawRowView(i))
	}
	return out, nil
}

func (s *StandardScaler) FitTransform(X *mat.Dense) (*mat.Dense, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

func (s *StandardScaler) TransformRow(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, eris.Errorf("scaler fitted on %d columns, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	s.transformInto(x, out)
	return out, nil
}

func (s *StandardScaler) transformInto(src, dst []float64) {
	for j, v := range src {
		dst[j] = (v - s.Mean[j]) / s.Scale[j]
	}
}
