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
// 注文サービスやミドルウェアから利用する。
type MetricsCollector interface {
	RecordCheckout(outcome string)
	RecordWebhookEvent(eventType, outcome string)
	RecordGatewayLatency(operation string, duration time.Duration)
	RecordLedgerTransition(status string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	checkouts         *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	gatewayLatency    *prometheus.HistogramVec
	ledgerTransitions *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tamanweb_checkout_total",
			Help: "チェックアウト開始要求の結果別件数",
		}, []string{"outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tamanweb_webhook_events_total",
			Help: "決済Webhookイベントの種別・結果別件数",
		}, []string{"event_type", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tamanweb_payment_gateway_latency_seconds",
			Help:    "決済ゲートウェイ呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		ledgerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tamanweb_ledger_transitions_total",
			Help: "取引記録のステータス遷移件数",
		}, []string{"status"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tamanweb_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.checkouts,
		c.webhookEvents,
		c.gatewayLatency,
		c.ledgerTransitions,
		c.httpStatus,
	)

	return c
}

// RecordCheckout はチェックアウト開始要求の結果を記録する。
func (c *Collector) RecordCheckout(outcome string) {
	c.checkouts.WithLabelValues(outcome).Inc()
}

// RecordWebhookEvent はWebhookイベントの処理結果を記録する。
func (c *Collector) RecordWebhookEvent(eventType, outcome string) {
	c.webhookEvents.WithLabelValues(eventType, outcome).Inc()
}

// RecordGatewayLatency は決済ゲートウェイ呼び出しのレイテンシを記録する。
func (c *Collector) RecordGatewayLatency(operation string, duration time.Duration) {
	c.gatewayLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLedgerTransition は取引記録の遷移先ステータスを記録する。
func (c *Collector) RecordLedgerTransition(status string) {
	c.ledgerTransitions.WithLabelValues(status).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// NopCollector は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type NopCollector struct{}

func (NopCollector) RecordCheckout(string)                      {}
func (NopCollector) RecordWebhookEvent(string, string)          {}
func (NopCollector) RecordGatewayLatency(string, time.Duration) {}
func (NopCollector) RecordLedgerTransition(string)              {}
func (NopCollector) RecordHTTPStatus(int)                       {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
