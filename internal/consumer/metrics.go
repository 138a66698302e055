package consumer

import "github.com/prometheus/client_golang/prometheus"

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Booking events handled and committed, by topic and event type.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Handler failures, by topic and event type.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "planner_service",
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Messages dropped because they could not be decoded, by topic.",
	}, []string{"topic"})

	consumerLagSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "planner_service",
		Subsystem: "consumer",
		Name:      "lag_seconds",
		Help:      "Seconds between a message's broker timestamp and its processing, per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, consumerLagSeconds)
}

func recordProcessed(msg Message) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		consumerLagSeconds.WithLabelValues(msg.Topic).Set(nowFunc().Sub(msg.Timestamp).Seconds())
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
