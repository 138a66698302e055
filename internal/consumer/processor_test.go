package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/planner/internal/events"
)

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()

	payload := []byte(`{"event_id":"evt-1","owner_id":"owner-1"}`)
	msg := framed("booking_events", 10, 42, payload, events.TypeBookingCreated, "owner-1")

	reader := &stubReader{messages: []kafka.Message{msg}}
	handler := &stubHandler{}
	before := testutil.ToFloat64(processedCounter.WithLabelValues("booking_events", events.TypeBookingCreated))

	err := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, 1, reader.commitCalls)
	require.Equal(t, events.TypeBookingCreated, handler.last.EventType)
	require.Equal(t, "owner-1", handler.last.OwnerID)
	require.Equal(t, "booking_events-value", handler.last.SchemaSubject)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, string(payload), string(handler.last.Payload))
	require.InDelta(t, before+1, testutil.ToFloat64(processedCounter.WithLabelValues("booking_events", events.TypeBookingCreated)), 0.0001)
}

func TestProcessorRetriesFailedMessageBeforeCommitting(t *testing.T) {
	ctx := context.Background()

	failed := framed("booking_state_changed", 20, 99, []byte(`{"event_id":"evt-2"}`), events.TypeBookingStateChanged, "owner-2")
	next := framed("booking_state_changed", 21, 99, []byte(`{"event_id":"evt-3"}`), events.TypeBookingStateChanged, "owner-2")
	reader := &stubReader{messages: []kafka.Message{failed, next}}
	handler := &stubHandler{err: errors.New("boom"), failures: 2}
	before := testutil.ToFloat64(handlerErrorCounter.WithLabelValues("booking_state_changed", events.TypeBookingStateChanged))

	err := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t)), WithRetryDelay(time.Millisecond)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 4, handler.calls)
	require.Equal(t, []int64{20, 20, 20, 21}, handler.offsets)
	require.Equal(t, []int64{20, 21}, reader.committed)
	require.InDelta(t, before+2, testutil.ToFloat64(handlerErrorCounter.WithLabelValues("booking_state_changed", events.TypeBookingStateChanged)), 0.0001)
}

func TestProcessorLeavesFailedMessageUncommittedOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := framed("booking_events", 7, 42, []byte(`{"event_id":"evt-4"}`), events.TypeBookingCreated, "owner-1")
	reader := &stubReader{messages: []kafka.Message{msg}}
	handler := &stubHandler{err: errors.New("audit insert failed"), failures: -1, onCall: func(calls int) {
		if calls == 3 {
			cancel()
		}
	}}

	err := NewProcessor(reader, handler, WithRetryDelay(time.Millisecond)).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 3, handler.calls)
	require.Zero(t, reader.commitCalls)
}

func TestProcessorCommitsUndecodableMessages(t *testing.T) {
	ctx := context.Background()

	missingHeaders := framed("booking_events", 2, 1, []byte(`{}`), events.TypeBookingCreated, "owner-1")
	missingHeaders.Headers = nil

	reader := &stubReader{messages: []kafka.Message{
		{Topic: "booking_events", Value: []byte{0, 1}},
		missingHeaders,
		framed("booking_events", 3, 1, []byte(`not json`), events.TypeBookingCreated, "owner-1"),
	}}

	handler := &stubHandler{}
	before := testutil.ToFloat64(decodeErrorCounter.WithLabelValues("booking_events"))

	err := NewProcessor(reader, handler).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Zero(t, handler.calls)
	require.Equal(t, 3, reader.commitCalls)
	require.InDelta(t, before+3, testutil.ToFloat64(decodeErrorCounter.WithLabelValues("booking_events")), 0.0001)
}

func TestProcessorStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler := &stubHandler{}
	err := NewProcessor(&stubReader{}, handler).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, handler.calls)
}

func TestChainStopsAtFirstError(t *testing.T) {
	first := &stubHandler{err: errors.New("first failed")}
	second := &stubHandler{}

	err := Chain(first, second).Handle(context.Background(), Message{OwnerID: "owner-1"})
	require.EqualError(t, err, "first failed")
	require.Equal(t, 1, first.calls)
	require.Zero(t, second.calls)
}

func TestInvalidationHandlerUsesOwnerHeader(t *testing.T) {
	inv := &recordingInvalidator{}
	h := NewInvalidationHandler(inv)

	require.NoError(t, h.Handle(context.Background(), Message{OwnerID: "owner-9"}))
	require.NoError(t, h.Handle(context.Background(), Message{}))
	require.Equal(t, []string{"owner-9"}, inv.owners)
}

func framed(topic string, offset int64, schemaID uint32, payload []byte, eventType, ownerID string) kafka.Message {
	value := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(value[1:5], schemaID)
	copy(value[5:], payload)
	return kafka.Message{
		Topic:  topic,
		Offset: offset,
		Time:   time.Now().UTC(),
		Value:  value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "owner_id", Value: []byte(ownerID)},
			{Key: "schema_subject", Value: []byte(topic + "-value")},
		},
	}
}

type stubReader struct {
	messages    []kafka.Message
	index       int
	commitCalls int
	committed   []int64
}

func (r *stubReader) FetchMessage(context.Context) (kafka.Message, error) {
	if r.index >= len(r.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.commitCalls += len(msgs)
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

// stubHandler returns err for the first failures calls; a negative failures fails forever.
// Zero failures with a non-nil err also fails every call.
type stubHandler struct {
	calls    int
	err      error
	failures int
	last     Message
	offsets  []int64
	onCall   func(calls int)
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	h.offsets = append(h.offsets, msg.Offset)
	if h.onCall != nil {
		h.onCall(h.calls)
	}
	if h.err == nil {
		return nil
	}
	if h.failures > 0 && h.calls > h.failures {
		return nil
	}
	return h.err
}

type recordingInvalidator struct {
	owners []string
}

func (r *recordingInvalidator) Invalidate(_ context.Context, ownerID string) error {
	r.owners = append(r.owners, ownerID)
	return nil
}
