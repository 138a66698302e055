package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"HTTP_ADDRESS", "STORE_DRIVER", "KAFKA_BROKERS", "OUTBOX_BATCH_SIZE", "CONFLICT_BLOCK_ON_COMPLETED", "CALENDAR_WEEK_START", "CONSUMER_TOPICS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	require.Equal(t, ":8080", cfg.HTTPAddress)
	require.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	require.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.False(t, cfg.ConflictBlockOnCompleted)
	require.Equal(t, time.Monday, cfg.CalendarWeekStart)
	require.Equal(t, []string{"booking_events", "booking_state_changed"}, cfg.ConsumerTopics)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("KAFKA_BROKERS", " k1:9092 , ,k2:9092")
	t.Setenv("OUTBOX_POLL_INTERVAL", "250ms")
	t.Setenv("DLQ_MAX_RETRIES", "9")
	t.Setenv("CONFLICT_BLOCK_ON_COMPLETED", "true")
	t.Setenv("CALENDAR_WEEK_START", "Sunday")

	cfg := Load()
	require.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, 250*time.Millisecond, cfg.OutboxPollInterval)
	require.Equal(t, 9, cfg.DLQMaxRetries)
	require.True(t, cfg.ConflictBlockOnCompleted)
	require.Equal(t, time.Sunday, cfg.CalendarWeekStart)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")
	t.Setenv("OUTBOX_BATCH_SIZE", "many")
	t.Setenv("CONFLICT_BLOCK_ON_COMPLETED", "maybe")
	t.Setenv("CALENDAR_WEEK_START", "wednesday")

	cfg := Load()
	require.Equal(t, 2*time.Second, cfg.OutboxPollInterval)
	require.Equal(t, 25, cfg.OutboxBatchSize)
	require.False(t, cfg.ConflictBlockOnCompleted)
	require.Equal(t, time.Monday, cfg.CalendarWeekStart)
}
