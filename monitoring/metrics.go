package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector 服务指标（Prometheus）
type MetricsCollector struct {
	registry *prometheus.Registry

	predictions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	batchRows   prometheus.Histogram
	latency     *prometheus.HistogramVec
	requests    *prometheus.CounterVec
	modelInfo   *prometheus.GaugeVec
	wsClients   prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器，使用独立 registry
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gwpotential",
			Name:      "predictions_total",
			Help:      "Predictions served, by source and predicted label.",
		}, []string{"source", "label"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gwpotential",
			Name:      "prediction_errors_total",
			Help:      "Failed prediction requests, by source and error kind.",
		}, []string{"source", "kind"}),
		batchRows: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gwpotential",
			Name:      "batch_rows",
			Help:      "Rows per batch upload.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gwpotential",
			Name:      "prediction_duration_seconds",
			Help:      "Time spent in the prediction pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"source"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gwpotential",
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route pattern and status code.",
		}, []string{"route", "code"}),
		modelInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gwpotential",
			Name:      "model_info",
			Help:      "Loaded model run; value is the number of selected features.",
		}, []string{"run_id"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gwpotential",
			Name:      "websocket_clients",
			Help:      "Connected prediction feed subscribers.",
		}),
	}

	mc.registry.MustRegister(
		mc.predictions, mc.errors, mc.batchRows, mc.latency, mc.requests, mc.modelInfo, mc.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return mc
}

// ObservePrediction 记录一次成功预测
func (mc *MetricsCollector) ObservePrediction(source, label string, d time.Duration) {
	mc.predictions.WithLabelValues(source, label).Inc()
	mc.latency.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveError 记录一次失败请求
func (mc *MetricsCollector) ObserveError(source, kind string) {
	mc.errors.WithLabelValues(source, kind).Inc()
}

// ObserveBatch 记录批量行数
func (mc *MetricsCollector) ObserveBatch(rows int) {
	mc.batchRows.Observe(float64(rows))
}

// ObserveRequest 记录 HTTP 请求
func (mc *MetricsCollector) ObserveRequest(route string, code int) {
	mc.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// SetModel 记录已加载模型
func (mc *MetricsCollector) SetModel(runID string, features int) {
	mc.modelInfo.Reset()
	mc.modelInfo.WithLabelValues(runID).Set(float64(features))
}

// SetWebSocketClients 记录订阅者数量
func (mc *MetricsCollector) SetWebSocketClients(n int) {
	mc.wsClients.Set(float64(n))
}

// Registry 返回底层 registry
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler /metrics 处理器
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
