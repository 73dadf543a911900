package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 入站丢弃原因标签值。
// "邮箱不存在" 与 "解析失败" 在对外行为上都是静默丢弃，
// 但在指标上区分开，便于观察投递质量。
const (
	DropReasonNoMailbox      = "no_mailbox"
	DropReasonParseFailure   = "parse_failure"
	DropReasonInvalidAddress = "invalid_address"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱指标
	MailboxesCreated prometheus.Counter
	MailboxesSwept   prometheus.Counter

	// 邮件指标
	MessagesIngested prometheus.Counter
	MessagesRead     prometheus.Counter
	MessagesDeleted  prometheus.Counter
	IngestDropped    *prometheus.CounterVec

	// 错误指标
	StoreErrorsTotal prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// NewMetrics 返回进程级监控指标。
//
// promauto 在默认注册表上重复注册同名指标会 panic，
// 因此指标在进程内只初始化一次。
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = newMetrics()
	})
	return defaultMetrics
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vanishmail_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vanishmail_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		MailboxesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanishmail_mailboxes_created_total",
			Help: "Total number of mailboxes created",
		}),
		MailboxesSwept: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanishmail_mailboxes_swept_total",
			Help: "Total number of mailboxes deactivated by the expiry sweeper",
		}),
		MessagesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanishmail_messages_ingested_total",
			Help: "Total number of inbound messages persisted",
		}),
		MessagesRead: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanishmail_messages_read_total",
			Help: "Total number of messages marked read",
		}),
		MessagesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanishmail_messages_deleted_total",
			Help: "Total number of messages deleted by clients",
		}),
		IngestDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vanishmail_ingest_dropped_total",
			Help: "Total number of inbound messages dropped, by reason",
		}, []string{"reason"}),
		StoreErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanishmail_store_errors_total",
			Help: "Total number of persistence errors",
		}),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
