// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッション管理、認証フロー、ストアから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(flow, outcome string)
	ObserveBackendRequest(op, outcome string, duration time.Duration)
	RecordStoreMutation(command, outcome string)
	SetActiveStores(n int)
	RecordProfileIncomplete()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts      *prometheus.CounterVec
	backendDuration   *prometheus.HistogramVec
	storeMutations    *prometheus.CounterVec
	activeStores      prometheus.Gauge
	profileIncomplete prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_auth_attempts_total",
			Help: "認証フローの試行数（フロー・結果別）",
		}, []string{"flow", "outcome"}),
		backendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmanager_backend_request_duration_seconds",
			Help:    "リモートバックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "outcome"}),
		storeMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmanager_store_mutations_total",
			Help: "ドメインストアのコマンド実行数（コマンド・結果別）",
		}, []string{"command", "outcome"}),
		activeStores: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskmanager_active_stores",
			Help: "メモリ上に保持しているセッション別ストアの数",
		}),
		profileIncomplete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskmanager_profile_incomplete_total",
			Help: "サインアップ後にプロフィール行を作成できなかった件数",
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.backendDuration,
		c.storeMutations,
		c.activeStores,
		c.profileIncomplete,
	)

	return c
}

// RecordAuthAttempt は認証フローの結果を記録する。
func (c *Collector) RecordAuthAttempt(flow, outcome string) {
	c.authAttempts.WithLabelValues(flow, outcome).Inc()
}

// ObserveBackendRequest はリモート呼び出しのレイテンシを記録する。
func (c *Collector) ObserveBackendRequest(op, outcome string, duration time.Duration) {
	c.backendDuration.WithLabelValues(op, outcome).Observe(duration.Seconds())
}

// RecordStoreMutation はストアのコマンド結果を記録する。
func (c *Collector) RecordStoreMutation(command, outcome string) {
	c.storeMutations.WithLabelValues(command, outcome).Inc()
}

// SetActiveStores は保持中のストア数を更新する。
func (c *Collector) SetActiveStores(n int) {
	c.activeStores.Set(float64(n))
}

// RecordProfileIncomplete はプロフィール作成失敗を記録する。
func (c *Collector) RecordProfileIncomplete() {
	c.profileIncomplete.Inc()
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordAuthAttempt(string, string) {}
func (Nop) ObserveBackendRequest(string, string, time.Duration) {}
func (Nop) RecordStoreMutation(string, string) {}
func (Nop) SetActiveStores(int) {}
func (Nop) RecordProfileIncomplete() {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
