package ml

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestOrdinalEncoder(t *testing.T) {
	enc := NewOrdinalEncoder([]string{"Elevation", "Drainage.Density"})
	rows := [][]string{
		{"Medium", "Low"},
		{"High", "High"},
		{"Low", "Low"},
	}

	X, err := enc.FitTransform(rows)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"High", "Low", "Medium"}, {"High", "Low"}}, enc.Categories)
	assert.Equal(t, []float64{2, 1}, X.RawRowView(0))
	assert.Equal(t, []float64{0, 0}, X.RawRowView(1))
	assert.Equal(t, []float64{1, 1}, X.RawRowView(2))

	code, err := enc.Encode([]string{"Low", "High"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, code)
	assert.Equal(t, 1, enc.ColumnIndex("Drainage.Density"))
	assert.Equal(t, -1, enc.ColumnIndex("Rainfall"))
}

func TestOrdinalEncoder_Unseen(t *testing.T) {
	enc := NewOrdinalEncoder([]string{"Geological.Features"})
	require.NoError(t, enc.Fit([][]string{{"Granite"}, {"Basalt"}}))

	_, err := enc.Transform([][]string{{"Granite"}, {"Quartzite"}})
	var unseen *UnseenCategoryError
	require.True(t, errors.As(err, &unseen))
	assert.Equal(t, "Geological.Features", unseen.Column)
	assert.Equal(t, "Quartzite", unseen.Value)
	assert.Equal(t, 1, unseen.Row)
	assert.Contains(t, unseen.Error(), "row 2")
}

func TestOrdinalEncoder_EncodeUnseenHasNoRow(t *testing.T) {
	enc := NewOrdinalEncoder([]string{"Geological.Features"})
	require.NoError(t, enc.Fit([][]string{{"Granite"}, {"Basalt"}}))

	_, err := enc.Encode([]string{"Peat"})
	var unseen *UnseenCategoryError
	require.True(t, errors.As(err, &unseen))
	assert.Equal(t, NoRow, unseen.Row)
	assert.Equal(t, `unseen category "Peat" for column "Geological.Features"`, unseen.Error())
}

func TestOrdinalEncoder_JSONRoundTrip(t *testing.T) {
	enc := NewOrdinalEncoder([]string{"a", "b"})
	require.NoError(t, enc.Fit([][]string{{"x", "p"}, {"y", "q"}}))

	data, err := json.Marshal(enc)
	require.NoError(t, err)

	var loaded OrdinalEncoder
	require.NoError(t, json.Unmarshal(data, &loaded))
	code, err := loaded.Encode([]string{"y", "p"})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, code)

	bad := []byte(`{"columns":["a"],"categories":[["z","a"]]}`)
	assert.Error(t, json.Unmarshal(bad, &loaded))
}

func TestOrdinalEncoder_NotFitted(t *testing.T) {
	enc := NewOrdinalEncoder([]string{"a"})
	_, err := enc.Encode([]string{"x"})
	assert.Error(t, err)
}

func TestSelectColumns(t *testing.T) {
	X := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	out := SelectColumns(X, []int{2, 0})
	assert.Equal(t, []float64{3, 1}, out.RawRowView(0))
	assert.Equal(t, []float64{6, 4}, out.RawRowView(1))
}

func TestStandardScaler(t *testing.T) {
	X := mat.NewDense(4, 2, []float64{
		1, 7,
		2, 7,
		3, 7,
		4, 7,
	})
	var s StandardScaler
	out, err := s.FitTransform(X)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, s.Mean[0], 1e-12)
	assert.InDelta(t, 1.118033988749895, s.Scale[0], 1e-12)
	// constant column keeps unit scale
	assert.Equal(t, 1.0, s.Scale[1])
	assert.Equal(t, 0.0, out.At(2, 1))
	assert.InDelta(t, -1.3416407864998738, out.At(0, 0), 1e-12)

	row, err := s.TransformRow([]float64{2.5, 8})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, row)

	_, err = s.TransformRow([]float64{1})
	assert.Error(t, err)
}
