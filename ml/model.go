package ml

import "gonum.org/v1/gonum/mat"

type MLModel interface {
	Fit(X *mat.Dense, y []int) error
	Predict(features []float64) (int, float64, error)
}

type Transformer interface {
	Fit(X *mat.Dense) error
	Transform(X *mat.Dense) (*mat.Dense, error)
}

type ImportanceEstimator interface {
	Fit(X *mat.Dense, y []int) error
	FeatureImportances() []float64
}

// EstimatorFactory returns a fresh, independently seeded estimator for one selection round.
type EstimatorFactory func(nFeatures int, seed int64) ImportanceEstimator

func checkFitInput(X *mat.Dense, y []int) (int, int, error) {
	if X == nil || X.IsEmpty() {
		return 0, 0, errEmptyInput
	}
	n, p := X.Dims()
	if n != len(y) {
		return 0, 0, errSizeMismatch
	}
	for _, label := range y {
		if label != 0 && label != 1 {
			return 0, 0, errBadLabel
		}
	}
	return n, p, nil
}
