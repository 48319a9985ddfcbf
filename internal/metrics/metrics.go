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
// 認証サービス、HTTPミドルウェア、クリーンアップワーカーから利用する。
type MetricsCollector interface {
	RecordLoginAttempt(strategy, outcome string)
	RecordRegistration(outcome string)
	RecordSessionEstablished()
	RecordSessionDestroyed()
	RecordFederatedAccountCreated()
	RecordHTTPStatus(statusCode int)
	RecordPasswordHash(duration time.Duration)
	RecordSessionsCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	loginAttempts       *prometheus.CounterVec
	registrations       *prometheus.CounterVec
	sessionsEstablished prometheus.Counter
	sessionsDestroyed   prometheus.Counter
	federatedCreated    prometheus.Counter
	httpStatus          *prometheus.CounterVec
	passwordHash        prometheus.Histogram
	sessionsCleaned     prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apexauth_login_attempts_total",
			Help: "ストラテジー・結果別のログイン試行数",
		}, []string{"strategy", "outcome"}),
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apexauth_registrations_total",
			Help: "結果別のアカウント登録数",
		}, []string{"outcome"}),
		sessionsEstablished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexauth_sessions_established_total",
			Help: "発行したセッションの合計数",
		}),
		sessionsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexauth_sessions_destroyed_total",
			Help: "ログアウトで破棄したセッションの合計数",
		}),
		federatedCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexauth_federated_accounts_created_total",
			Help: "フェデレーテッドログインで自動作成したアカウント数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "apexauth_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		passwordHash: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "apexauth_password_hash_seconds",
			Help:    "パスワードハッシュ生成の所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		sessionsCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "apexauth_sessions_cleaned_total",
			Help: "クリーンアップジョブが削除した期限切れセッション数",
		}),
	}

	reg.MustRegister(
		c.loginAttempts,
		c.registrations,
		c.sessionsEstablished,
		c.sessionsDestroyed,
		c.federatedCreated,
		c.httpStatus,
		c.passwordHash,
		c.sessionsCleaned,
	)

	return c
}

// RecordLoginAttempt はログイン試行を記録する。outcomeはsuccess/failure/error。
func (c *Collector) RecordLoginAttempt(strategy, outcome string) {
	c.loginAttempts.WithLabelValues(strategy, outcome).Inc()
}

// RecordRegistration はアカウント登録の結果を記録する。
func (c *Collector) RecordRegistration(outcome string) {
	c.registrations.WithLabelValues(outcome).Inc()
}

// RecordSessionEstablished はセッション発行を記録する。
func (c *Collector) RecordSessionEstablished() {
	c.sessionsEstablished.Inc()
}

// RecordSessionDestroyed はセッション破棄を記録する。
func (c *Collector) RecordSessionDestroyed() {
	c.sessionsDestroyed.Inc()
}

// RecordFederatedAccountCreated はフェデレーテッドログインによるアカウント作成を記録する。
func (c *Collector) RecordFederatedAccountCreated() {
	c.federatedCreated.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordPasswordHash はパスワードハッシュ生成の所要時間を記録する。
func (c *Collector) RecordPasswordHash(duration time.Duration) {
	c.passwordHash.Observe(duration.Seconds())
}

// RecordSessionsCleaned はクリーンアップで削除したセッション数を記録する。
func (c *Collector) RecordSessionsCleaned(count int64) {
	c.sessionsCleaned.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordLoginAttempt(string, string) {}
func (Nop) RecordRegistration(string) {}
func (Nop) RecordSessionEstablished() {}
func (Nop) RecordSessionDestroyed() {}
func (Nop) RecordFederatedAccountCreated() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordPasswordHash(time.Duration) {}
func (Nop) RecordSessionsCleaned(int64) {}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
