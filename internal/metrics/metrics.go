package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Processed          prometheus.Counter
	Skipped            prometheus.Counter
	Answered           prometheus.Counter
	BCCCopied          prometheus.Counter
	CompletionFailures prometheus.Counter
	DeliveryFailures   prometheus.Counter
	Reconnects         prometheus.Counter
	ProcessingTime     prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		Processed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailai_processed_total",
			Help: "Total number of messages run through the lifecycle controller",
		}),
		Skipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailai_skipped_total",
			Help: "Total number of messages rejected at admission",
		}),
		Answered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailai_answered_total",
			Help: "Total number of replies accepted by the outbound transport",
		}),
		BCCCopied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailai_bcc_copied_total",
			Help: "Total number of replies copied to the configured BCC addresses",
		}),
		CompletionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailai_completion_failures_total",
			Help: "Total number of failed AI completion requests",
		}),
		DeliveryFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailai_delivery_failures_total",
			Help: "Total number of replies that failed after the durable marker was applied",
		}),
		Reconnects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mailai_imap_reconnects_total",
			Help: "Total number of IMAP reconnect attempts",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailai_processing_duration_seconds",
			Help:    "Time spent processing a single message",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
