package inference

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"gwpotential/ml"
	"gwpotential/pipeline"
)

// PredictionColumn is appended to batch tables.
const PredictionColumn = "Prediction"

// PredictionError wraps any failure of the per-request pipeline.
type PredictionError struct {
	Message string
	Err     error
}

func (e *PredictionError) Error() string {
	if e.Err == nil {
		return "prediction failed: " + e.Message
	}
	return fmt.Sprintf("prediction failed: %s: %v", e.Message, e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

func predictionError(msg string, err error) error {
	return &PredictionError{Message: msg, Err: err}
}

// Probabilities of both classes; they sum to 1.
type Probabilities struct {
	Low  float64 `json:"low_potential"`
	High float64 `json:"high_potential"`
}

// Prediction is the classifier output for one record.
type Prediction struct {
	Label         string          `json:"label"`
	Class         int             `json:"class"`
	Confidence    float64         `json:"confidence"`
	Decision      float64         `json:"decision_value"`
	Probabilities Probabilities   `json:"probabilities"`
	Record        pipeline.Record `json:"record"`
}

// Predict runs encode, subset, scale and classify for one complete record.
func (m *ModelContext) Predict(rec pipeline.Record) (*Prediction, error) {
	if err := rec.Validate(); err != nil {
		return nil, predictionError("incomplete record", err)
	}
	encoded, err := m.bundle.Encoder.Encode(rec.Values())
	if err != nil {
		return nil, predictionError("cannot encode record", err)
	}
	x := make([]float64, len(m.featureIdx))
	for k, j := range m.featureIdx {
		x[k] = encoded[j]
	}
	scaled, err := m.bundle.Scaler.TransformRow(x)
	if err != nil {
		return nil, predictionError("cannot scale record", err)
	}
	pred, err := m.classify(scaled)
	if err != nil {
		return nil, err
	}
	pred.Record = rec
	return pred, nil
}

// PredictValues assembles a record from user values and predicts it.
func (m *ModelContext) PredictValues(values map[string]string) (*Prediction, error) {
	rec, err := m.AssembleRecord(values)
	if err != nil {
		return nil, predictionError("invalid input", err)
	}
	return m.Predict(rec)
}

// classify expects a scaled subset vector.
func (m *ModelContext) classify(scaled []float64) (*Prediction, error) {
	dec, err := m.bundle.Model.DecisionFunction(scaled)
	if err != nil {
		return nil, predictionError("classifier failed", err)
	}
	class, confidence, err := m.bundle.Model.Predict(scaled)
	if err != nil {
		return nil, predictionError("classifier failed", err)
	}
	proba, err := m.bundle.Model.PredictProba(scaled)
	if err != nil {
		return nil, predictionError("classifier failed", err)
	}
	return &Prediction{
		Label:         pipeline.LabelName(class),
		Class:         class,
		Confidence:    confidence,
		Decision:      dec,
		Probabilities: Probabilities{Low: proba[0], High: proba[1]},
	}, nil
}

// BatchResult is the uploaded table with a prediction column appended.
type BatchResult struct {
	Header      []string
	Rows        [][]string
	Predictions []Prediction
}

// Len is the number of annotated rows.
func (r *BatchResult) Len() int {
	return len(r.Rows)
}

// PredictBatch annotates every row of t. The whole table is encoded at once; a single
// bad row fails the batch.
func (m *ModelContext) PredictBatch(t *pipeline.Table) (*BatchResult, error) {
	records, err := pipeline.DecodeRecords(t)
	if err != nil {
		return nil, predictionError("invalid table", err)
	}

	header := append(append([]string(nil), t.Header...), PredictionColumn)
	for _, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), PredictionColumn) {
			return nil, predictionError("invalid table", &pipeline.SchemaError{Duplicate: []string{PredictionColumn}})
		}
	}
	result := &BatchResult{
		Header:      header,
		Rows:        make([][]string, 0, len(records)),
		Predictions: make([]Prediction, 0, len(records)),
	}
	if len(records) == 0 {
		return result, nil
	}

	clean := pipeline.NewWhitespaceRule()
	rows := make([][]string, len(records))
	for i := range records {
		trimmed, _ := clean.Apply(&records[i])
		records[i] = *trimmed
		rows[i] = trimmed.Values()
	}

	X, err := m.bundle.Encoder.Transform(rows)
	if err != nil {
		return nil, predictionError("cannot encode table", err)
	}
	scaled, err := m.bundle.Scaler.Transform(ml.SelectColumns(X, m.featureIdx))
	if err != nil {
		return nil, predictionError("cannot scale table", err)
	}

	for i := range records {
		pred, err := m.classify(scaled.RawRowView(i))
		if err != nil {
			return nil, eris.Wrapf(err, "row %d", i+1)
		}
		pred.Record = records[i]
		result.Predictions = append(result.Predictions, *pred)

		out := make([]string, len(t.Header), len(header))
		copy(out, t.Rows[i])
		result.Rows = append(result.Rows, append(out, pred.Label))
	}
	return result, nil
}
