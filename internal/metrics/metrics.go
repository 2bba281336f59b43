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
// サービス層・ミドルウェア・保持ワーカーから利用する。
type MetricsCollector interface {
	RecordPassAppended(location string)
	RecordPassesDeleted(scope string, count int)
	RecordAuthorizationDenied(operation string)
	RecordStorageError(operation string)
	RecordStoreLatency(operation string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordRetentionTrimmed(count int)
}

// 削除スコープのラベル値
const (
	ScopeOne     = "one"
	ScopeTeacher = "teacher"
	ScopeAll     = "all"
)

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	passesAppended   *prometheus.CounterVec
	passesDeleted    *prometheus.CounterVec
	authzDenied      *prometheus.CounterVec
	storageErrors    *prometheus.CounterVec
	storeLatency     *prometheus.HistogramVec
	httpStatus       *prometheus.CounterVec
	retentionTrimmed prometheus.Counter
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		passesAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hallpass_passes_appended_total",
			Help: "記録されたパスの合計数（行き先別）",
		}, []string{"location"}),
		passesDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hallpass_passes_deleted_total",
			Help: "削除されたパスの合計数（削除スコープ別）",
		}, []string{"scope"}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hallpass_authorization_denied_total",
			Help: "管理者判定で拒否された操作の数",
		}, []string{"operation"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hallpass_storage_errors_total",
			Help: "ストア操作の失敗数",
		}, []string{"operation"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hallpass_store_latency_seconds",
			Help:    "ストア操作のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hallpass_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		retentionTrimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hallpass_retention_trimmed_total",
			Help: "保持ワーカーが上限超過で削除したパスの合計数",
		}),
	}

	reg.MustRegister(
		c.passesAppended,
		c.passesDeleted,
		c.authzDenied,
		c.storageErrors,
		c.storeLatency,
		c.httpStatus,
		c.retentionTrimmed,
	)

	return c
}

// RecordPassAppended はパスの記録を行き先別に数える。
func (c *Collector) RecordPassAppended(location string) {
	c.passesAppended.WithLabelValues(location).Inc()
}

// RecordPassesDeleted は削除件数をスコープ別に加算する。
func (c *Collector) RecordPassesDeleted(scope string, count int) {
	c.passesDeleted.WithLabelValues(scope).Add(float64(count))
}

// RecordAuthorizationDenied は管理者判定での拒否を記録する。
func (c *Collector) RecordAuthorizationDenied(operation string) {
	c.authzDenied.WithLabelValues(operation).Inc()
}

// RecordStorageError はストア操作の失敗を記録する。
func (c *Collector) RecordStorageError(operation string) {
	c.storageErrors.WithLabelValues(operation).Inc()
}

// RecordStoreLatency はストア操作のレイテンシを記録する。
func (c *Collector) RecordStoreLatency(operation string, duration time.Duration) {
	c.storeLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRetentionTrimmed は保持ワーカーの削除件数を加算する。
func (c *Collector) RecordRetentionTrimmed(count int) {
	c.retentionTrimmed.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。テストやCLIで使う。
type NopCollector struct{}

func (NopCollector) RecordPassAppended(string)                 {}
func (NopCollector) RecordPassesDeleted(string, int)           {}
func (NopCollector) RecordAuthorizationDenied(string)          {}
func (NopCollector) RecordStorageError(string)                 {}
func (NopCollector) RecordStoreLatency(string, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int)                      {}
func (NopCollector) RecordRetentionTrimmed(int)                {}
