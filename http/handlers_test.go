package http

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwpotential/artifact"
	"gwpotential/db"
	"gwpotential/inference"
	"gwpotential/monitoring"
	"gwpotential/pipeline"
	"gwpotential/pipeline/pipelinetest"
	"gwpotential/training"
)

var (
	bundleOnce sync.Once
	bundle     *artifact.Bundle
	bundleErr  error
)

func testModel(t *testing.T) *inference.ModelContext {
	t.Helper()
	bundleOnce.Do(func() {
		var res *training.Result
		res, bundleErr = training.Run(context.Background(), pipelinetest.Dataset(300, 11), training.DefaultConfig())
		if bundleErr == nil {
			bundle = res.Bundle
		}
	})
	require.NoError(t, bundleErr)
	mc, err := inference.NewModelContext(bundle)
	require.NoError(t, err)
	return mc
}

func testServer(t *testing.T, cfg ServerConfig, opts ...Option) (*Handlers, http.Handler) {
	t.Helper()
	h := NewHandlers(testModel(t), opts...)
	return h, NewHandler(cfg, h)
}

func unlimited() ServerConfig {
	cfg := DefaultServerConfig()
	cfg.RateLimit = 0
	return cfg
}

func testStore(t *testing.T) *db.Store {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// recordValues returns the selected-feature values of rec.
func recordValues(t *testing.T, mc *inference.ModelContext, rec pipeline.Record) map[string]string {
	t.Helper()
	values := make(map[string]string)
	for _, f := range mc.Features() {
		v, err := rec.Get(f)
		require.NoError(t, err)
		values[f] = v
	}
	return values
}

func postJSON(handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func errorMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body["error"]
}

func TestHealthHandler(t *testing.T) {
	h, handler := testServer(t, unlimited())

	rr := get(handler, "/api/health")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, h.model.RunID(), body["run_id"])
}

func TestModelAndFormHandlers(t *testing.T) {
	h, handler := testServer(t, unlimited())

	rr := get(handler, "/api/model")
	require.Equal(t, http.StatusOK, rr.Code)
	var model modelResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &model))
	assert.Equal(t, h.model.Features(), model.Features)
	assert.Len(t, model.Selection, len(pipeline.PredictorFields()))
	require.NotNil(t, model.Evaluation)

	rr = get(handler, "/api/form")
	require.Equal(t, http.StatusOK, rr.Code)
	var form formResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &form))
	require.Len(t, form.Fields, len(h.model.Features()))
	for _, f := range form.Fields {
		assert.NotEmpty(t, f.Options, f.Name)
		assert.Contains(t, f.Options, f.Default, f.Name)
	}
	assert.Equal(t, Country, form.Country)
	assert.Len(t, form.Provinces, 2)
}

func TestPredictHandler(t *testing.T) {
	store := testStore(t)
	metrics := monitoring.NewMetricsCollector()
	h, handler := testServer(t, unlimited(), WithStore(store), WithMetrics(metrics))

	rr := postJSON(handler, "/api/predict", predictRequest{
		Values:   recordValues(t, h.model, pipelinetest.HighRecord),
		Location: db.Location{Country: Country, Province: "Midlands Province", District: "Gweru"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var pred inference.Prediction
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &pred))
	assert.Equal(t, pipeline.LabelHigh, pred.Label)
	assert.InDelta(t, 1.0, pred.Probabilities.Low+pred.Probabilities.High, 1e-9)
	assert.Equal(t, pipelinetest.HighRecord.GeologicalFeatures, pred.Record.GeologicalFeatures)

	logs, err := store.RecentPredictions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "api", logs[0].Source)
	assert.Equal(t, "Gweru", logs[0].Location.District)
	assert.Equal(t, pred.Label, logs[0].Label)

	rr = get(handler, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `gwpotential_predictions_total{label="High Potential",source="api"} 1`)
}

func TestPredictHandlerRejectsBadInput(t *testing.T) {
	h, handler := testServer(t, unlimited())
	valid := recordValues(t, h.model, pipelinetest.LowRecord)

	unseen := make(map[string]string)
	for k, v := range valid {
		unseen[k] = v
	}
	unseen[pipeline.FieldGeologicalFeatures] = "Peat"

	missing := make(map[string]string)
	for k, v := range valid {
		if k != h.model.Features()[0] {
			missing[k] = v
		}
	}

	tests := []struct {
		name    string
		body    interface{}
		message string
	}{
		{"unseen category", predictRequest{Values: unseen}, "Peat"},
		{"missing feature", predictRequest{Values: missing}, h.model.Features()[0]},
		{"unknown field", predictRequest{Values: map[string]string{"Rainfall": "High"}}, "Rainfall"},
		{"bad location", predictRequest{Values: valid, Location: db.Location{Province: "Harare"}}, "province"},
		{"bad coordinates", predictRequest{Values: valid, Location: db.Location{Latitude: "123"}}, "latitude"},
		{"unknown json key", map[string]interface{}{"vals": valid}, "invalid request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postJSON(handler, "/api/predict", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, errorMessage(t, rr), tt.message)
		})
	}

	t.Run("single record error has no row number", func(t *testing.T) {
		rr := postJSON(handler, "/api/predict", predictRequest{Values: unseen})
		require.Equal(t, http.StatusBadRequest, rr.Code)
		assert.NotContains(t, errorMessage(t, rr), "row")
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func batchCSV(records []pipeline.Record) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(append([]string{"Site"}, pipeline.PredictorFields()...))
	for i, r := range records {
		_ = w.Write(append([]string{"site-" + string(rune('A'+i))}, r.Values()...))
	}
	w.Flush()
	return buf.Bytes()
}

func upload(t *testing.T, handler http.Handler, path, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestBatchHandlerCSV(t *testing.T) {
	store := testStore(t)
	_, handler := testServer(t, unlimited(), WithStore(store))
	records := []pipeline.Record{pipelinetest.HighRecord, pipelinetest.LowRecord, pipelinetest.HighRecord}

	rr := upload(t, handler, "/api/predict/batch", "fields.csv", batchCSV(records))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, `attachment; filename="fields_predictions.csv"`, rr.Header().Get("Content-Disposition"))
	batchID := rr.Header().Get("X-Batch-ID")
	assert.NotEmpty(t, batchID)

	rows, err := csv.NewReader(rr.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, len(records)+1)
	header := rows[0]
	assert.Equal(t, "Site", header[0])
	assert.Equal(t, inference.PredictionColumn, header[len(header)-1])
	assert.Equal(t, "site-A", rows[1][0])
	assert.Equal(t, pipeline.LabelHigh, rows[1][len(header)-1])
	assert.Equal(t, pipeline.LabelLow, rows[2][len(header)-1])

	logs, err := store.RecentPredictions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, len(records))
	for _, l := range logs {
		assert.Equal(t, "batch", l.Source)
		assert.Equal(t, batchID, l.BatchID)
	}
}

func TestBatchHandlerJSON(t *testing.T) {
	h, handler := testServer(t, unlimited())
	records := []pipeline.Record{pipelinetest.LowRecord, pipelinetest.HighRecord}

	rr := upload(t, handler, "/api/predict/batch?format=json", "fields.csv", batchCSV(records))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, h.model.RunID(), resp.RunID)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, pipeline.LabelLow, resp.Rows[0][inference.PredictionColumn])
	assert.Equal(t, "site-B", resp.Rows[1]["Site"])
	assert.Equal(t, map[string]int{pipeline.LabelHigh: 1, pipeline.LabelLow: 1}, resp.Summary)
}

func TestBatchHandlerErrors(t *testing.T) {
	_, handler := testServer(t, unlimited())

	t.Run("unseen category fails whole batch", func(t *testing.T) {
		bad := pipelinetest.LowRecord
		bad.GeologicalFeatures = "Peat"
		rr := upload(t, handler, "/api/predict/batch", "fields.csv",
			batchCSV([]pipeline.Record{pipelinetest.HighRecord, bad}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, errorMessage(t, rr), "Peat")
	})

	t.Run("missing column", func(t *testing.T) {
		rr := upload(t, handler, "/api/predict/batch", "fields.csv", []byte("Soil.Texture,Elevation\nLoam,High\n"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	malformed := []struct {
		name, file, data, message string
	}{
		{"ragged csv", "ragged.csv", "Soil.Texture,Elevation\nLoam,High,Extra\n", "malformed csv"},
		{"bare quote csv", "quote.csv", "Soil.Texture,Elevation\nLo\"am,High\n", "malformed csv"},
		{"not a workbook", "fields.xlsx", "Soil.Texture,Elevation\n", "malformed xlsx"},
	}
	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			rr := upload(t, handler, "/api/predict/batch", tt.file, []byte(tt.data))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, errorMessage(t, rr), tt.message)
		})
	}

	t.Run("no file field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/predict/batch", strings.NewReader("x"))
		req.Header.Set("Content-Type", "text/plain")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestBatchHandlerUploadLimit(t *testing.T) {
	_, handler := testServer(t, unlimited(), WithMaxUpload(512))
	records := pipelinetest.Records(40, 3)

	rr := upload(t, handler, "/api/predict/batch", "fields.csv", batchCSV(records))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestLogEndpoints(t *testing.T) {
	t.Run("without store", func(t *testing.T) {
		_, handler := testServer(t, unlimited())
		assert.Equal(t, http.StatusServiceUnavailable, get(handler, "/api/predictions").Code)
		assert.Equal(t, http.StatusServiceUnavailable, get(handler, "/api/training/runs").Code)
	})

	t.Run("with store", func(t *testing.T) {
		store := testStore(t)
		h, handler := testServer(t, unlimited(), WithStore(store))
		require.NoError(t, store.SaveTrainingLog(context.Background(), db.TrainingLog{
			RunID:     h.model.RunID(),
			ModelName: "svc-rbf",
			Accuracy:  0.9,
			Features:  h.model.Features(),
		}))

		rr := get(handler, "/api/training/runs?limit=5")
		require.Equal(t, http.StatusOK, rr.Code)
		var runs struct {
			LoadedRunID string           `json:"loaded_run_id"`
			Runs        []db.TrainingLog `json:"runs"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
		assert.Equal(t, h.model.RunID(), runs.LoadedRunID)
		require.Len(t, runs.Runs, 1)
		assert.Equal(t, h.model.Features(), runs.Runs[0].Features)

		rr = get(handler, "/api/predictions")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"predictions":[]}`, rr.Body.String())
	})
}

func TestRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RateLimit = 1
	cfg.RateBurst = 2
	_, handler := testServer(t, cfg)

	assert.Equal(t, http.StatusOK, get(handler, "/api/health").Code)
	assert.Equal(t, http.StatusOK, get(handler, "/api/health").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(handler, "/api/health").Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := unlimited()
	cfg.AllowedOrigins = []string{"https://maps.example.org"}
	_, handler := testServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://maps.example.org", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example.org")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", errorMessage(t, rr))
}
