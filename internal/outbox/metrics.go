package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Delivery results and DLQ outcomes used as label values.
const (
	resultDelivered = "delivered"
	resultParked    = "parked"

	outcomeRequeued       = "requeued"
	outcomeRetryScheduled = "retry_scheduled"
	outcomeQuarantined    = "quarantined"
)

var (
	bookingEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "outbox",
		Name:      "booking_events_total",
		Help:      "Booking events taken from the outbox, labeled by event type and whether Kafka accepted them or they were parked in the DLQ.",
	}, []string{"event_type", "result"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "planner_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent claiming, delivering and marking one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "dlq",
		Name:      "booking_events_total",
		Help:      "DLQ decisions per booking event type: requeued, retry_scheduled or quarantined.",
	}, []string{"event_type", "outcome"})

	dlqBacklog = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "planner_service",
		Subsystem: "dlq",
		Name:      "backlog",
		Help:      "Booking events waiting in the DLQ, excluding quarantined ones.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(bookingEventsPublished, batchDuration, dlqOutcomes, dlqBacklog)
}

func recordPublished(messages []Message, result string) {
	for _, msg := range messages {
		bookingEventsPublished.WithLabelValues(msg.EventType, result).Inc()
	}
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomes.WithLabelValues(entry.EventType, outcome).Inc()
}

// refreshBacklog replaces the backlog gauge with the current per-type counts.
// Types that drained to zero disappear from the series.
func refreshBacklog(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `SELECT event_type, COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL GROUP BY event_type`)
	if err != nil {
		return err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return err
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		return err
	}

	dlqBacklog.Reset()
	for eventType, n := range counts {
		dlqBacklog.WithLabelValues(eventType).Set(float64(n))
	}
	return nil
}
