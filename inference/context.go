// Package inference serves predictions from a loaded artifact bundle.
package inference

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"gwpotential/artifact"
	"gwpotential/ml"
	"gwpotential/pipeline"
)

// ModelContext holds the artifacts of one training run. It is built once and never
// mutated afterwards, so handlers share it across goroutines without locking.
type ModelContext struct {
	bundle     *artifact.Bundle
	featureIdx []int
	inSubset   map[string]bool
}

// NewModelContext checks the bundle and prepares the column mapping.
func NewModelContext(b *artifact.Bundle) (*ModelContext, error) {
	if b == nil {
		return nil, eris.New("nil bundle")
	}
	if err := b.Validate(); err != nil {
		return nil, eris.Wrap(err, "model context")
	}
	if !b.Model.Probability {
		return nil, eris.New("model context: classifier was fitted without probability estimates")
	}
	idx, err := b.FeatureIndices()
	if err != nil {
		return nil, err
	}
	inSubset := make(map[string]bool, len(b.Features))
	for _, f := range b.Features {
		inSubset[f] = true
	}
	return &ModelContext{bundle: b, featureIdx: idx, inSubset: inSubset}, nil
}

// Load reads the bundle from dir. Errors are *artifact.LoadError and fatal to the caller.
func Load(dir string) (*ModelContext, error) {
	b, err := artifact.Load(dir)
	if err != nil {
		return nil, err
	}
	mc, err := NewModelContext(b)
	if err != nil {
		return nil, &artifact.LoadError{Path: dir, Reason: "unusable bundle", Err: err}
	}
	zap.L().Info("model loaded",
		zap.String("dir", dir),
		zap.String("run_id", b.RunID),
		zap.Strings("features", b.Features),
		zap.Int("support_vectors", len(b.Model.SupportVectors)),
	)
	return mc, nil
}

func (m *ModelContext) RunID() string {
	return m.bundle.RunID
}

func (m *ModelContext) CreatedAt() time.Time {
	return m.bundle.CreatedAt
}

// Features returns the selected predictors in schema order.
func (m *ModelContext) Features() []string {
	out := make([]string, len(m.bundle.Features))
	copy(out, m.bundle.Features)
	return out
}

// IsFeature reports whether field is part of the selected subset.
func (m *ModelContext) IsFeature(field string) bool {
	return m.inSubset[field]
}

// Options lists the values observed for field during training.
func (m *ModelContext) Options(field string) []string {
	return m.bundle.Vocabulary.Options(field)
}

// Mode is the most frequent training value of field.
func (m *ModelContext) Mode(field string) string {
	return m.bundle.Vocabulary.Mode(field)
}

// Evaluation is the held-out evaluation of the run, nil when it was not stored.
func (m *ModelContext) Evaluation() *ml.Evaluation {
	if m.bundle.Evaluation == nil {
		return nil
	}
	ev := *m.bundle.Evaluation
	return &ev
}

// Selection is the feature selection outcome for every predictor, nil when not stored.
func (m *ModelContext) Selection() *ml.BorutaResult {
	s := m.bundle.Selection
	if s == nil {
		return nil
	}
	return &ml.BorutaResult{
		Decisions:  append([]int(nil), s.Decisions...),
		Hits:       append([]int(nil), s.Hits...),
		Iterations: s.Iterations,
	}
}

// AssembleRecord merges user values with the modal training value of every field
// the user did not set. Every selected feature must be supplied.
func (m *ModelContext) AssembleRecord(values map[string]string) (pipeline.Record, error) {
	rec := m.bundle.Vocabulary.Defaults()
	supplied := make(map[string]bool, len(values))
	for name, v := range values {
		field := pipeline.CanonicalColumn(name)
		if !pipeline.IsPredictor(field) {
			return pipeline.Record{}, &pipeline.SchemaError{Detail: "unknown field " + name}
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := rec.Set(field, v); err != nil {
			return pipeline.Record{}, err
		}
		supplied[field] = true
	}

	var missing []string
	for _, f := range m.bundle.Features {
		if !supplied[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return pipeline.Record{}, &pipeline.SchemaError{Missing: missing, Detail: "selected features must be supplied"}
	}
	return rec, nil
}
