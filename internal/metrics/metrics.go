// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// オーケストレータやサービス層から利用する。
type MetricsCollector interface {
	RecordSyncOutcome(kind string)
	RecordExtractFailure(reason string)
	RecordObservations(count int)
	RecordTokenRefresh(success bool)
	RecordHTTPStatus(statusCode int)
	RecordSyncLatency(duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	syncOutcomes *prometheus.CounterVec
	extractFail  *prometheus.CounterVec
	observations prometheus.Counter
	tokenRefresh *prometheus.CounterVec
	httpStatus   *prometheus.CounterVec
	syncLatency  prometheus.Histogram
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_sync_outcomes_total",
			Help: "同期対象ごとの処理結果の合計数",
		}, []string{"kind"}),
		extractFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_extract_fail_total",
			Help: "価格抽出失敗の合計数",
		}, []string{"reason"}),
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricewatch_observations_recorded_total",
			Help: "記録された価格観測値の合計数",
		}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_token_refresh_total",
			Help: "トークンリフレッシュの合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricewatch_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		syncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricewatch_sync_latency_seconds",
			Help:    "同期サイクルのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.syncOutcomes,
		c.extractFail,
		c.observations,
		c.tokenRefresh,
		c.httpStatus,
		c.syncLatency,
	)

	return c
}

// RecordSyncOutcome は同期対象1件の処理結果を記録する。
func (c *Collector) RecordSyncOutcome(kind string) {
	c.syncOutcomes.WithLabelValues(kind).Inc()
}

// RecordExtractFailure は価格抽出の失敗を記録する。
func (c *Collector) RecordExtractFailure(reason string) {
	c.extractFail.WithLabelValues(reason).Inc()
}

// RecordObservations は記録された観測値の件数を記録する。
func (c *Collector) RecordObservations(count int) {
	c.observations.Add(float64(count))
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordSyncLatency は同期サイクルのレイテンシを記録する。
func (c *Collector) RecordSyncLatency(duration time.Duration) {
	c.syncLatency.Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
