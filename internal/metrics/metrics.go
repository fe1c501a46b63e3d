// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス収集のインターフェース。
// サービス層とスイープワーカーから利用する。
type Recorder interface {
	RecordVoteCast()
	RecordCandidateProposed()
	RecordIterationClosed(trigger string)
	RecordBroadcastFailure()
	RecordSweepLatency(duration time.Duration)
	RecordAuthFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	votesCast        prometheus.Counter
	candidates       prometheus.Counter
	iterationsClosed *prometheus.CounterVec
	broadcastFail    prometheus.Counter
	sweepLatency     prometheus.Histogram
	authFail         prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		votesCast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookvote_votes_cast_total",
			Help: "投票（切り替え含む）の合計数",
		}),
		candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookvote_candidates_proposed_total",
			Help: "候補提案の合計数",
		}),
		iterationsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookvote_iterations_closed_total",
			Help: "クローズされたイテレーションの合計数",
		}, []string{"trigger"}),
		broadcastFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookvote_broadcast_fail_total",
			Help: "当選告知の送信失敗の合計数",
		}),
		sweepLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bookvote_sweep_latency_seconds",
			Help:    "締切スイープ1回あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		authFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookvote_auth_fail_total",
			Help: "起動ペイロード認証失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.votesCast,
		c.candidates,
		c.iterationsClosed,
		c.broadcastFail,
		c.sweepLatency,
		c.authFail,
	)

	return c
}

// RecordVoteCast は投票を記録する。
func (c *Collector) RecordVoteCast() {
	c.votesCast.Inc()
}

// RecordCandidateProposed は候補提案を記録する。
func (c *Collector) RecordCandidateProposed() {
	c.candidates.Inc()
}

// RecordIterationClosed はイテレーションのクローズを記録する。
// triggerは"manual"（管理者操作）または"sweep"（締切スイープ）。
func (c *Collector) RecordIterationClosed(trigger string) {
	c.iterationsClosed.WithLabelValues(trigger).Inc()
}

// RecordBroadcastFailure は告知送信の失敗を記録する。
func (c *Collector) RecordBroadcastFailure() {
	c.broadcastFail.Inc()
}

// RecordSweepLatency はスイープのレイテンシを記録する。
func (c *Collector) RecordSweepLatency(duration time.Duration) {
	c.sweepLatency.Observe(duration.Seconds())
}

// RecordAuthFailure は認証失敗を記録する。
func (c *Collector) RecordAuthFailure() {
	c.authFail.Inc()
}

// Noop は何も記録しないRecorder実装。テストで使用する。
type Noop struct{}

func (Noop) RecordVoteCast()                  {}
func (Noop) RecordCandidateProposed()         {}
func (Noop) RecordIterationClosed(string)     {}
func (Noop) RecordBroadcastFailure()          {}
func (Noop) RecordSweepLatency(time.Duration) {}
func (Noop) RecordAuthFailure()               {}

// compile-time interface checks
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Noop{}
)

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
