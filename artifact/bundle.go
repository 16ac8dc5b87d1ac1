// Package artifact persists the trained encoder, scaler, feature subset and classifier as one bundle.
package artifact

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"gwpotential/ml"
	"gwpotential/pipeline"
)

// SchemaVersion is bumped whenever a payload layout changes.
const SchemaVersion = 1

const (
	KindEncoder  = "ordinal_encoder"
	KindScaler   = "standard_scaler"
	KindFeatures = "selected_features"
	KindModel    = "svm_model"
)

// Kinds lists the bundle members in the order they are written.
var Kinds = []string{KindEncoder, KindScaler, KindFeatures, KindModel}

var fileNames = map[string]string{
	KindEncoder:  "ordinal_encoder.json",
	KindScaler:   "scaler.json",
	KindFeatures: "selected_features.json",
	KindModel:    "svm_model.json",
}

// FileName returns the file that stores the given kind.
func FileName(kind string) string {
	return fileNames[kind]
}

// Bundle is everything inference needs, produced by a single training run.
type Bundle struct {
	RunID      string
	CreatedAt  time.Time
	Encoder    *ml.OrdinalEncoder
	Vocabulary *pipeline.Vocabulary
	Scaler     *ml.StandardScaler
	Features   []string
	Selection  *ml.BorutaResult
	Model      *ml.SVC
	Evaluation *ml.Evaluation
}

// FeatureIndices maps the selected features onto encoder columns.
func (b *Bundle) FeatureIndices() ([]int, error) {
	if len(b.Features) == 0 {
		return nil, eris.New("feature subset is empty")
	}
	seen := make(map[string]bool, len(b.Features))
	idx := make([]int, len(b.Features))
	for k, f := range b.Features {
		if seen[f] {
			return nil, eris.Errorf("feature %q selected twice", f)
		}
		seen[f] = true
		j := b.Encoder.ColumnIndex(f)
		if j < 0 {
			return nil, eris.Errorf("feature %q is not an encoder column", f)
		}
		idx[k] = j
	}
	return idx, nil
}

// Validate checks that the members agree with each other.
func (b *Bundle) Validate() error {
	switch {
	case b.RunID == "":
		return eris.New("bundle has no run id")
	case b.Encoder == nil:
		return eris.New("bundle has no encoder")
	case b.Vocabulary == nil:
		return eris.New("bundle has no vocabulary")
	case b.Scaler == nil:
		return eris.New("bundle has no scaler")
	case b.Model == nil:
		return eris.New("bundle has no model")
	}
	if schema := pipeline.PredictorFields(); !sameColumns(b.Encoder.Columns, schema) {
		return eris.Errorf("encoder columns %v do not match the predictor schema %v", b.Encoder.Columns, schema)
	}
	if _, err := b.FeatureIndices(); err != nil {
		return err
	}
	if len(b.Scaler.Mean) != len(b.Features) || len(b.Scaler.Scale) != len(b.Features) {
		return eris.Errorf("scaler has %d columns, feature subset has %d", len(b.Scaler.Mean), len(b.Features))
	}
	if b.Model.NFeatures != len(b.Features) {
		return eris.Errorf("model expects %d features, feature subset has %d", b.Model.NFeatures, len(b.Features))
	}
	return nil
}

// sameColumns requires identical names in identical order; records are encoded in schema order.
func sameColumns(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// LoadError reports a missing, corrupt or inconsistent bundle.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("artifact load error: %s", e.Reason)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
