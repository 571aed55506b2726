// Package metrics はゲートウェイのPrometheusメトリクスを提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はゲートウェイのメトリクスを記録する。
// nilのRecorderに対する呼び出しは何もしない。
type Recorder struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	rateLimited      *prometheus.CounterVec
	rateLimitErrors  prometheus.Counter
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
}

// New は専用のレジストリを持つRecorderを生成する。
func New(namespace string) *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "ゲートウェイが応答したリクエスト数",
		}, []string{"route", "method", "status"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "レート制限で拒否されたリクエスト数",
		}, []string{"route"}),
		rateLimitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_store_errors_total",
			Help:      "レート制限ストアのエラー数",
		}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "バックエンドへの転送にかかった時間",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		upstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "バックエンドへの転送に失敗した回数",
		}, []string{"route", "reason"}),
	}
	reg.MustRegister(
		r.requests,
		r.rateLimited,
		r.rateLimitErrors,
		r.upstreamDuration,
		r.upstreamErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Request は応答済みリクエストを1件記録する。
func (r *Recorder) Request(route, method string, status int) {
	if r == nil {
		return
	}
	r.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// RateLimited はレート制限による拒否を1件記録する。
func (r *Recorder) RateLimited(route string) {
	if r == nil {
		return
	}
	r.rateLimited.WithLabelValues(route).Inc()
}

// RateLimitStoreError はレート制限ストアのエラーを1件記録する。
func (r *Recorder) RateLimitStoreError() {
	if r == nil {
		return
	}
	r.rateLimitErrors.Inc()
}

// Upstream はバックエンドへの転送結果を記録する。reasonが空なら成功として扱う。
func (r *Recorder) Upstream(route string, elapsed time.Duration, reason string) {
	if r == nil {
		return
	}
	r.upstreamDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	if reason != "" {
		r.upstreamErrors.WithLabelValues(route, reason).Inc()
	}
}

// Registry は内部のレジストリを返す。
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler は/metrics用のハンドラを返す。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
