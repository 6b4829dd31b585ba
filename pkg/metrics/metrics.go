package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	// AI 调用延迟（毫秒）
	AICallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_call_latency_ms",
			Help:    "AI provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"operation", "status"},
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	DBSlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	WebhookReceivedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_received_count",
			Help: "Inbound emails by provider and outcome",
		},
		[]string{"provider", "outcome"}, // outcome: accepted, duplicate, rejected, error
	)

	// 邮件处理计数
	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_processed_count",
			Help: "Total number of raw emails run through the pipeline",
		},
		[]string{"result"}, // result: newsletter, not_newsletter, empty
	)

	ArticleCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "article_count",
			Help: "Candidate articles by outcome",
		},
		[]string{"outcome"}, // outcome: created, duplicate
	)

	EnrichmentFieldCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrichment_field_count",
			Help: "Enrichment sub-steps by field and status",
		},
		[]string{"field", "status"},
	)

	JobOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_job_count",
			Help: "Processing jobs by type and terminal transition",
		},
		[]string{"job_type", "outcome"}, // outcome: completed, requeued, failed
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processing_job_duration_seconds",
			Help:    "Processing job handler duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"job_type"},
	)
)

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// RecordAICallLatency 记录 AI 调用延迟
func RecordAICallLatency(operation, status string, duration time.Duration) {
	AICallLatency.WithLabelValues(operation, status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func IncrementSlowQuery(operation string) {
	DBSlowQueryCount.WithLabelValues(operation).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

func IncrementWebhookReceived(provider, outcome string) {
	WebhookReceivedCount.WithLabelValues(provider, outcome).Inc()
}

// IncrementEmailProcessed 增加邮件处理计数
func IncrementEmailProcessed(result string) {
	EmailProcessedCount.WithLabelValues(result).Inc()
}

func AddArticles(outcome string, n int) {
	if n <= 0 {
		return
	}
	ArticleCount.WithLabelValues(outcome).Add(float64(n))
}

func IncrementEnrichmentField(field, status string) {
	EnrichmentFieldCount.WithLabelValues(field, status).Inc()
}

func RecordJob(jobType, outcome string, duration time.Duration) {
	JobOutcomeCount.WithLabelValues(jobType, outcome).Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}
