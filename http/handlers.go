package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"gwpotential/db"
	"gwpotential/inference"
	"gwpotential/ml"
	"gwpotential/monitoring"
	"gwpotential/pipeline"
)

// Store 预测与训练记录存储
type Store interface {
	SavePredictions(ctx context.Context, logs []db.PredictionLog) error
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionLog, error)
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingLog, error)
}

// Handlers 持有已加载模型及可选的存储、指标、推送
type Handlers struct {
	model     *inference.ModelContext
	store     Store
	metrics   *monitoring.MetricsCollector
	hub       *monitoring.WebSocketHub
	readOpts  pipeline.ReadOptions
	maxUpload int64
	pages     *pageSet
}

// Option 配置 Handlers
type Option func(*Handlers)

func WithStore(s Store) Option {
	return func(h *Handlers) { h.store = s }
}

func WithMetrics(m *monitoring.MetricsCollector) Option {
	return func(h *Handlers) { h.metrics = m }
}

func WithHub(hub *monitoring.WebSocketHub) Option {
	return func(h *Handlers) { h.hub = hub }
}

// WithReadOptions 批量上传的 CSV 解析参数
func WithReadOptions(opts pipeline.ReadOptions) Option {
	return func(h *Handlers) { h.readOpts = opts }
}

func WithMaxUpload(n int64) Option {
	return func(h *Handlers) { h.maxUpload = n }
}

// NewHandlers 创建处理器集合；model 必须已加载
func NewHandlers(model *inference.ModelContext, opts ...Option) *Handlers {
	h := &Handlers{
		model:     model,
		maxUpload: DefaultServerConfig().MaxUploadBytes,
		pages:     mustLoadPages(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics != nil {
		h.metrics.SetModel(model.RunID(), len(model.Features()))
	}
	return h
}

// Register 注册全部路由
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("POST /predict", h.handlePredictForm)
	mux.HandleFunc("GET /about", h.handleAbout)

	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/model", h.handleModel)
	mux.HandleFunc("GET /api/form", h.handleForm)
	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.Handle("POST /api/predict/batch", RequestSizeMiddleware(h.maxUpload)(http.HandlerFunc(h.handleBatch)))
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.HandleFunc("GET /api/training/runs", h.handleTrainingRuns)

	if h.hub != nil {
		mux.HandleFunc("GET /api/ws/predictions", h.hub.HandleWebSocket)
	}
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"run_id": h.model.RunID(),
	})
}

type featureStatus struct {
	Name     string `json:"name"`
	Decision string `json:"decision"`
	Hits     int    `json:"hits"`
}

type modelResponse struct {
	RunID      string          `json:"run_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Features   []string        `json:"features"`
	Selection  []featureStatus `json:"selection,omitempty"`
	Iterations int             `json:"selection_iterations,omitempty"`
	Evaluation *ml.Evaluation  `json:"evaluation,omitempty"`
}

func (h *Handlers) describeModel() modelResponse {
	resp := modelResponse{
		RunID:      h.model.RunID(),
		CreatedAt:  h.model.CreatedAt(),
		Features:   h.model.Features(),
		Evaluation: h.model.Evaluation(),
	}
	if sel := h.model.Selection(); sel != nil && len(sel.Decisions) == len(pipeline.PredictorFields()) {
		resp.Iterations = sel.Iterations
		for j, f := range pipeline.PredictorFields() {
			resp.Selection = append(resp.Selection, featureStatus{
				Name:     f,
				Decision: decisionName(sel.Decisions[j]),
				Hits:     sel.Hits[j],
			})
		}
	}
	return resp
}

func decisionName(d int) string {
	switch d {
	case ml.Confirmed:
		return "confirmed"
	case ml.Rejected:
		return "rejected"
	default:
		return "tentative"
	}
}

func (h *Handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.describeModel())
}

type formField struct {
	Name    string   `json:"name"`
	Options []string `json:"options"`
	Default string   `json:"default"`
}

type formResponse struct {
	Fields    []formField `json:"fields"`
	Country   string      `json:"country"`
	Provinces []Province  `json:"provinces"`
}

func (h *Handlers) formFields() []formField {
	features := h.model.Features()
	fields := make([]formField, len(features))
	for i, f := range features {
		fields[i] = formField{Name: f, Options: h.model.Options(f), Default: h.model.Mode(f)}
	}
	return fields
}

func (h *Handlers) handleForm(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, formResponse{
		Fields:    h.formFields(),
		Country:   Country,
		Provinces: Provinces(),
	})
}

type predictRequest struct {
	Values   map[string]string `json:"values"`
	Location db.Location       `json:"location"`
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.observeError("api", "bad_request")
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pred, err := h.predict(r.Context(), "api", req.Values, req.Location)
	if err != nil {
		h.failPrediction(w, r, "api", err)
		return
	}
	respondJSON(w, http.StatusOK, pred)
}

// predict runs one prediction and records it. Storage and feed failures are logged, not returned.
func (h *Handlers) predict(ctx context.Context, source string, values map[string]string, loc db.Location) (*inference.Prediction, error) {
	if err := ValidateLocation(loc); err != nil {
		return nil, err
	}
	start := time.Now()
	pred, err := h.model.PredictValues(values)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	if h.metrics != nil {
		h.metrics.ObservePrediction(source, pred.Label, elapsed)
	}

	if h.store != nil {
		err := h.store.SavePredictions(ctx, []db.PredictionLog{{
			RunID:    h.model.RunID(),
			Source:   source,
			Record:   pred.Record,
			Label:    pred.Label,
			ProbLow:  pred.Probabilities.Low,
			ProbHigh: pred.Probabilities.High,
			Location: loc,
		}})
		if err != nil {
			zap.L().Warn("prediction not stored", zap.String("request_id", GetRequestID(ctx)), zap.Error(err))
		}
	}
	if h.hub != nil {
		_ = h.hub.PublishPrediction(monitoring.PredictionEvent{
			RunID:      h.model.RunID(),
			Source:     source,
			Label:      pred.Label,
			ProbLow:    pred.Probabilities.Low,
			ProbHigh:   pred.Probabilities.High,
			Values:     pred.Record.Map(),
			District:   loc.District,
			DurationMS: float64(elapsed.Microseconds()) / 1000,
		})
	}
	return pred, nil
}

func (h *Handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "prediction log is not configured")
		return
	}
	logs, err := h.store.RecentPredictions(r.Context(), queryLimit(r, 50))
	if err != nil {
		zap.L().Error("load predictions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "cannot load predictions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"predictions": logs})
}

func (h *Handlers) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "training log is not configured")
		return
	}
	runs, err := h.store.LoadTrainingLog(r.Context(), queryLimit(r, 20))
	if err != nil {
		zap.L().Error("load training log", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "cannot load training log")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"loaded_run_id": h.model.RunID(),
		"runs":          runs,
	})
}

func queryLimit(r *http.Request, def int) int {
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return def
}

// statusFor 输入类错误返回 400，其余 500
func statusFor(err error) (int, string) {
	var schemaErr *pipeline.SchemaError
	var labelErr *pipeline.LabelError
	var unseenErr *ml.UnseenCategoryError
	var locErr *LocationError
	var formatErr *pipeline.FormatError
	switch {
	case errors.As(err, &unseenErr):
		return http.StatusBadRequest, "unseen_category"
	case errors.As(err, &formatErr):
		return http.StatusBadRequest, "format"
	case errors.As(err, &schemaErr):
		return http.StatusBadRequest, "schema"
	case errors.As(err, &labelErr):
		return http.StatusBadRequest, "label"
	case errors.As(err, &locErr):
		return http.StatusBadRequest, "location"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (h *Handlers) observeError(source, kind string) {
	if h.metrics != nil {
		h.metrics.ObserveError(source, kind)
	}
}

func (h *Handlers) failPrediction(w http.ResponseWriter, r *http.Request, source string, err error) {
	status, kind := statusFor(err)
	h.observeError(source, kind)
	if status >= http.StatusInternalServerError {
		zap.L().Error("prediction failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		respondError(w, status, "prediction failed")
		return
	}
	respondError(w, status, userMessage(err))
}

// userMessage 取最内层类型化错误的描述
func userMessage(err error) string {
	var unseenErr *ml.UnseenCategoryError
	var schemaErr *pipeline.SchemaError
	var locErr *LocationError
	var formatErr *pipeline.FormatError
	switch {
	case errors.As(err, &unseenErr):
		return unseenErr.Error()
	case errors.As(err, &formatErr):
		return formatErr.Error()
	case errors.As(err, &schemaErr):
		return schemaErr.Error()
	case errors.As(err, &locErr):
		return locErr.Error()
	}
	return err.Error()
}

// respondJSON 统一JSON响应
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode json", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
