// Package training runs the offline pipeline: encode, select features, split, scale, fit, evaluate.
package training

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"gwpotential/artifact"
	"gwpotential/ml"
	"gwpotential/pipeline"
)

// ErrNoFeaturesSelected aborts training when feature selection confirms nothing.
var ErrNoFeaturesSelected = eris.New("feature selection confirmed no predictors")

// Config 训练参数
type Config struct {
	Seed      int64        `yaml:"seed"`
	TestRatio float64      `yaml:"test_ratio"`
	Boruta    BorutaConfig `yaml:"boruta"`
	SVM       SVMConfig    `yaml:"svm"`
}

// BorutaConfig 特征选择参数
type BorutaConfig struct {
	MaxIter     int     `yaml:"max_iter"`
	Alpha       float64 `yaml:"alpha"`
	Perc        float64 `yaml:"perc"`
	TwoStep     bool    `yaml:"two_step"`
	NEstimators int     `yaml:"n_estimators"`
	MaxDepth    int     `yaml:"max_depth"`
}

// SVMConfig 分类器参数
type SVMConfig struct {
	C                float64 `yaml:"c"`
	Gamma            float64 `yaml:"gamma"`
	Tol              float64 `yaml:"tol"`
	ProbabilityFolds int     `yaml:"probability_folds"`
	CacheRows        int     `yaml:"cache_rows"`
}

// DefaultConfig 默认训练参数
func DefaultConfig() Config {
	return Config{
		Seed:      42,
		TestRatio: 0.2,
		Boruta: BorutaConfig{
			MaxIter: 100,
			Alpha:   0.05,
			Perc:    100,
			TwoStep: true,
		},
		SVM: SVMConfig{
			C:                1,
			Tol:              1e-3,
			ProbabilityFolds: 5,
			CacheRows:        512,
		},
	}
}

// Validate 检查参数范围
func (c Config) Validate() error {
	switch {
	case c.TestRatio <= 0 || c.TestRatio >= 1:
		return eris.Errorf("test_ratio must be in (0,1), got %g", c.TestRatio)
	case c.Boruta.MaxIter < 2:
		return eris.Errorf("boruta.max_iter must be at least 2, got %d", c.Boruta.MaxIter)
	case c.Boruta.Alpha <= 0 || c.Boruta.Alpha >= 1:
		return eris.Errorf("boruta.alpha must be in (0,1), got %g", c.Boruta.Alpha)
	case c.Boruta.Perc <= 0 || c.Boruta.Perc > 100:
		return eris.Errorf("boruta.perc must be in (0,100], got %g", c.Boruta.Perc)
	case c.SVM.C <= 0:
		return eris.Errorf("svm.c must be positive, got %g", c.SVM.C)
	case c.SVM.Gamma < 0:
		return eris.Errorf("svm.gamma must be 0 (scale) or positive, got %g", c.SVM.Gamma)
	case c.SVM.ProbabilityFolds < 2:
		return eris.Errorf("svm.probability_folds must be at least 2, got %d", c.SVM.ProbabilityFolds)
	}
	return nil
}

// Result 一次训练的产出
type Result struct {
	Bundle          *artifact.Bundle
	Evaluation      *ml.Evaluation
	TrainSize       int
	TestIndices     []int
	TestPredictions []int
	Duration        time.Duration
}

// Run 执行完整训练流程；不写任何文件
func Run(ctx context.Context, ds *pipeline.Dataset, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ds == nil || ds.Len() == 0 {
		return nil, eris.New("dataset is empty")
	}
	if counts := ds.ClassCounts(); counts[0] == 0 || counts[1] == 0 {
		return nil, eris.Errorf("dataset needs both classes, got %d low and %d high", counts[0], counts[1])
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := zap.L().With(zap.String("run_id", runID))
	logger.Info("training started", zap.Int("rows", ds.Len()), zap.Int("rejected_rows", ds.Rejected))

	rows := make([][]string, ds.Len())
	for i, rec := range ds.Records {
		rows[i] = rec.Values()
	}
	encoder := ml.NewOrdinalEncoder(pipeline.PredictorFields())
	X, err := encoder.FitTransform(rows)
	if err != nil {
		return nil, eris.Wrap(err, "encode dataset")
	}

	selector := &ml.Boruta{
		NEstimators: cfg.Boruta.NEstimators,
		MaxDepth:    cfg.Boruta.MaxDepth,
		MaxIter:     cfg.Boruta.MaxIter,
		Alpha:       cfg.Boruta.Alpha,
		Perc:        cfg.Boruta.Perc,
		TwoStep:     cfg.Boruta.TwoStep,
		Seed:        cfg.Seed,
	}
	selection, err := selector.Fit(ctx, X, ds.Labels)
	if err != nil {
		return nil, eris.Wrap(err, "feature selection")
	}
	confirmed := selection.Confirmed()
	if len(confirmed) == 0 {
		logger.Error("no features confirmed", zap.Ints("decisions", selection.Decisions))
		return nil, ErrNoFeaturesSelected
	}
	features := make([]string, len(confirmed))
	for k, j := range confirmed {
		features[k] = encoder.Columns[j]
	}
	logger.Info("features selected",
		zap.Strings("features", features),
		zap.Int("iterations", selection.Iterations),
		zap.Int("tentative", len(selection.Tentative())),
	)

	Xs := ml.SelectColumns(X, confirmed)
	trainIdx, testIdx, err := ml.StratifiedSplit(ds.Labels, cfg.TestRatio, cfg.Seed)
	if err != nil {
		return nil, eris.Wrap(err, "split dataset")
	}
	trainY := pick(ds.Labels, trainIdx)
	testY := pick(ds.Labels, testIdx)

	scaler := &ml.StandardScaler{}
	trainX, err := scaler.FitTransform(ml.SelectRows(Xs, trainIdx))
	if err != nil {
		return nil, eris.Wrap(err, "fit scaler")
	}
	testX, err := scaler.Transform(ml.SelectRows(Xs, testIdx))
	if err != nil {
		return nil, eris.Wrap(err, "scale test partition")
	}

	svc := &ml.SVC{
		C:           cfg.SVM.C,
		Gamma:       cfg.SVM.Gamma,
		Tol:         cfg.SVM.Tol,
		Probability: true,
		Folds:       cfg.SVM.ProbabilityFolds,
		Seed:        cfg.Seed,
		CacheRows:   cfg.SVM.CacheRows,
	}
	if err := svc.Fit(trainX, trainY); err != nil {
		return nil, eris.Wrap(err, "fit classifier")
	}

	predictions := make([]int, len(testIdx))
	for k := range testIdx {
		label, _, err := svc.Predict(testX.RawRowView(k))
		if err != nil {
			return nil, eris.Wrap(err, "evaluate")
		}
		predictions[k] = label
	}
	evaluation, err := ml.Evaluate(testY, predictions, [2]string{pipeline.LabelLow, pipeline.LabelHigh})
	if err != nil {
		return nil, eris.Wrap(err, "evaluate")
	}

	bundle := &artifact.Bundle{
		RunID:      runID,
		CreatedAt:  time.Now().UTC(),
		Encoder:    encoder,
		Vocabulary: pipeline.BuildVocabulary(ds.Records),
		Scaler:     scaler,
		Features:   features,
		Selection:  selection,
		Model:      svc,
		Evaluation: evaluation,
	}
	if err := bundle.Validate(); err != nil {
		return nil, eris.Wrap(err, "assemble bundle")
	}

	result := &Result{
		Bundle:          bundle,
		Evaluation:      evaluation,
		TrainSize:       len(trainIdx),
		TestIndices:     testIdx,
		TestPredictions: predictions,
		Duration:        time.Since(start),
	}
	logger.Info("training finished",
		zap.Float64("accuracy", evaluation.Accuracy),
		zap.Int("train_rows", len(trainIdx)),
		zap.Int("test_rows", len(testIdx)),
		zap.Int("support_vectors", len(svc.SupportVectors)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func pick(y []int, idx []int) []int {
	out := make([]int, len(idx))
	for k, i := range idx {
		out[k] = y[i]
	}
	return out
}
