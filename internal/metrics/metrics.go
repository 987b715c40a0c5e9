// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 位置情報プロバイダ試行の結果ラベル。
const (
	GeoResultHit     = "hit"
	GeoResultMiss    = "miss"
	GeoResultTimeout = "timeout"
	GeoResultError   = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やハンドラーから利用する。
type MetricsCollector interface {
	RecordGeoAttempt(provider, result string)
	RecordGeoLatency(duration time.Duration)
	RecordGeoCache(hit bool)
	RecordLoginRecorded(method string)
	RecordActivityUpdate(matched bool)
	RecordDisclaimerCheck(required bool)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	geoAttempts      *prometheus.CounterVec
	geoLatency       prometheus.Histogram
	geoCache         *prometheus.CounterVec
	loginsRecorded   *prometheus.CounterVec
	activityUpdates  *prometheus.CounterVec
	disclaimerChecks *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		geoAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberportal_geo_attempts_total",
			Help: "位置情報プロバイダへの問い合わせ回数（結果別）",
		}, []string{"provider", "result"}),
		geoLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "memberportal_geo_lookup_seconds",
			Help:    "位置情報解決全体のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		geoCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberportal_geo_cache_total",
			Help: "位置情報キャッシュの参照結果",
		}, []string{"result"}),
		loginsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberportal_logins_recorded_total",
			Help: "記録されたログインイベント数（ログイン方式別）",
		}, []string{"method"}),
		activityUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberportal_activity_updates_total",
			Help: "最終アクティビティ更新の回数（一致したユーザーの有無別）",
		}, []string{"matched"}),
		disclaimerChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberportal_disclaimer_checks_total",
			Help: "免責事項の同意要否チェック回数",
		}, []string{"required"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "memberportal_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.geoAttempts,
		c.geoLatency,
		c.geoCache,
		c.loginsRecorded,
		c.activityUpdates,
		c.disclaimerChecks,
		c.httpStatus,
	)

	return c
}

// RecordGeoAttempt はプロバイダ1件への問い合わせ結果を記録する。
func (c *Collector) RecordGeoAttempt(provider, result string) {
	c.geoAttempts.WithLabelValues(provider, result).Inc()
}

// RecordGeoLatency は位置情報解決のレイテンシを記録する。
func (c *Collector) RecordGeoLatency(duration time.Duration) {
	c.geoLatency.Observe(duration.Seconds())
}

// RecordGeoCache はキャッシュのヒット・ミスを記録する。
func (c *Collector) RecordGeoCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.geoCache.WithLabelValues(result).Inc()
}

// RecordLoginRecorded はログインイベントの保存を記録する。
func (c *Collector) RecordLoginRecorded(method string) {
	c.loginsRecorded.WithLabelValues(method).Inc()
}

// RecordActivityUpdate は最終アクティビティ更新を記録する。
func (c *Collector) RecordActivityUpdate(matched bool) {
	c.activityUpdates.WithLabelValues(strconv.FormatBool(matched)).Inc()
}

// RecordDisclaimerCheck は免責事項チェックの結果を記録する。
func (c *Collector) RecordDisclaimerCheck(required bool) {
	c.disclaimerChecks.WithLabelValues(strconv.FormatBool(required)).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
// 一部のコレクターが失敗しても残りのメトリクスは返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling:       promhttp.ContinueOnError,
		MaxRequestsInFlight: 2,
	})
}
