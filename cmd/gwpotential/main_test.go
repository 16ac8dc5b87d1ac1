package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwpotential/artifact"
	"gwpotential/config"
	"gwpotential/db"
	"gwpotential/inference"
	"gwpotential/pipeline"
	"gwpotential/pipeline/pipelinetest"
)

func TestTrainThenBatch(t *testing.T) {
	dir := t.TempDir()
	dataset := filepath.Join(dir, "groundwater.csv")
	require.NoError(t, os.WriteFile(dataset, pipelinetest.CSV(300, 11), 0o644))

	c := config.Default()
	c.Dataset.Path = dataset
	c.Artifacts.Dir = filepath.Join(dir, "artifacts")
	c.Database.Path = filepath.Join(dir, "data", "gw.db")

	var out bytes.Buffer
	require.NoError(t, train(context.Background(), c, &out))
	assert.Contains(t, out.String(), "selected features:")
	assert.Contains(t, out.String(), "artifacts saved to")
	assert.True(t, artifact.Exists(c.Artifacts.Dir))

	model, err := inference.Load(c.Artifacts.Dir)
	require.NoError(t, err)

	store, err := db.Open(c.Database.Path)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.LoadTrainingLog(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunID(), runs[0].RunID)
	assert.Equal(t, model.Features(), runs[0].Features)
	assert.Greater(t, runs[0].DataPoints, 0)

	input := filepath.Join(dir, "fields.csv")
	var in bytes.Buffer
	w := csv.NewWriter(&in)
	_ = w.Write(pipeline.PredictorFields())
	_ = w.Write(pipelinetest.HighRecord.Values())
	_ = w.Write(pipelinetest.LowRecord.Values())
	w.Flush()
	require.NoError(t, os.WriteFile(input, in.Bytes(), 0o644))

	var result bytes.Buffer
	require.NoError(t, predictFile(model, input, c.Dataset.ReadOptions, &result))
	rows, err := csv.NewReader(&result).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	last := len(rows[0]) - 1
	assert.Equal(t, inference.PredictionColumn, rows[0][last])
	assert.Equal(t, pipeline.LabelHigh, rows[1][last])
	assert.Equal(t, pipeline.LabelLow, rows[2][last])
}

func TestTrainMissingDataset(t *testing.T) {
	c := config.Default()
	c.Dataset.Path = filepath.Join(t.TempDir(), "absent.csv")
	c.Artifacts.Dir = filepath.Join(t.TempDir(), "artifacts")

	err := train(context.Background(), c, &bytes.Buffer{})
	require.Error(t, err)
	assert.False(t, artifact.Exists(c.Artifacts.Dir))
}
