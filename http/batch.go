package http

import (
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gwpotential/db"
	"gwpotential/inference"
	"gwpotential/monitoring"
	"gwpotential/pipeline"
)

type batchResponse struct {
	BatchID string              `json:"batch_id"`
	RunID   string              `json:"run_id"`
	Header  []string            `json:"header"`
	Rows    []map[string]string `json:"rows"`
	Summary map[string]int      `json:"summary"`
}

// handleBatch 上传 CSV/XLSX，返回附加预测列的同一张表
func (h *Handlers) handleBatch(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		h.observeError("batch", "bad_request")
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		respondError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.observeError("batch", "bad_request")
		respondError(w, http.StatusBadRequest, "cannot read upload")
		return
	}

	table, err := pipeline.ReadBytes(header.Filename, data, h.readOpts)
	if err != nil {
		h.failPrediction(w, r, "batch", err)
		return
	}

	start := time.Now()
	result, err := h.model.PredictBatch(table)
	if err != nil {
		h.failPrediction(w, r, "batch", err)
		return
	}
	batchID := uuid.NewString()
	h.recordBatch(r, batchID, result, time.Since(start))

	if strings.EqualFold(r.URL.Query().Get("format"), "json") {
		rows := make([]map[string]string, result.Len())
		for i, row := range result.Rows {
			m := make(map[string]string, len(result.Header))
			for j, col := range result.Header {
				if j < len(row) {
					m[col] = row[j]
				}
			}
			rows[i] = m
		}
		respondJSON(w, http.StatusOK, batchResponse{
			BatchID: batchID,
			RunID:   h.model.RunID(),
			Header:  result.Header,
			Rows:    rows,
			Summary: summarize(result),
		})
		return
	}

	name := strings.TrimSuffix(filepath.Base(header.Filename), filepath.Ext(header.Filename)) + "_predictions.csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("X-Batch-ID", batchID)
	w.WriteHeader(http.StatusOK)
	if err := WriteBatchCSV(w, result); err != nil {
		zap.L().Warn("write batch response", zap.Error(err))
	}
}

// WriteBatchCSV 输出带预测列的 CSV
func WriteBatchCSV(w io.Writer, result *inference.BatchResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(result.Header); err != nil {
		return err
	}
	if err := cw.WriteAll(result.Rows); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func summarize(result *inference.BatchResult) map[string]int {
	summary := map[string]int{pipeline.LabelHigh: 0, pipeline.LabelLow: 0}
	for _, p := range result.Predictions {
		summary[p.Label]++
	}
	return summary
}

func (h *Handlers) recordBatch(r *http.Request, batchID string, result *inference.BatchResult, elapsed time.Duration) {
	summary := summarize(result)
	if h.metrics != nil {
		h.metrics.ObserveBatch(result.Len())
		per := elapsed
		if n := result.Len(); n > 0 {
			per = elapsed / time.Duration(n)
		}
		for _, p := range result.Predictions {
			h.metrics.ObservePrediction("batch", p.Label, per)
		}
	}
	if h.store != nil && result.Len() > 0 {
		logs := make([]db.PredictionLog, len(result.Predictions))
		for i, p := range result.Predictions {
			logs[i] = db.PredictionLog{
				RunID:    h.model.RunID(),
				Source:   "batch",
				BatchID:  batchID,
				Record:   p.Record,
				Label:    p.Label,
				ProbLow:  p.Probabilities.Low,
				ProbHigh: p.Probabilities.High,
			}
		}
		if err := h.store.SavePredictions(r.Context(), logs); err != nil {
			zap.L().Warn("batch predictions not stored", zap.String("batch_id", batchID), zap.Error(err))
		}
	}
	if h.hub != nil {
		_ = h.hub.PublishBatch(monitoring.BatchEvent{
			RunID:   h.model.RunID(),
			BatchID: batchID,
			Rows:    result.Len(),
			High:    summary[pipeline.LabelHigh],
			Low:     summary[pipeline.LabelLow],
		})
	}
	zap.L().Info("batch predicted",
		zap.String("batch_id", batchID),
		zap.Int("rows", result.Len()),
		zap.Duration("duration", elapsed),
	)
}
