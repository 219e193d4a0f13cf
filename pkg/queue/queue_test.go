package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQueue(client, nil), mr
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	payload := BillingArchivePayload{
		EventID:    "evt_1",
		EventType:  "invoice.paid",
		Outcome:    "applied",
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Raw:        json.RawMessage(`{"id":"evt_1"}`),
	}
	require.NoError(t, q.EnqueueBillingArchive(ctx, payload))

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeBillingArchive, job.Type)

	var got BillingArchivePayload
	require.NoError(t, json.Unmarshal(job.Payload, &got))
	assert.Equal(t, "evt_1", got.EventID)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(got.Raw))
}

func TestRetryMovesToDLQ(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job := &Job{ID: "job-1", Type: JobTypeBillingArchive, Payload: json.RawMessage(`{}`)}
	for i := 0; i < MaxRetries-1; i++ {
		require.NoError(t, q.Retry(ctx, job))
	}
	list, err := mr.List(QueueBillingArchive)
	require.NoError(t, err)
	assert.Len(t, list, MaxRetries-1)

	require.NoError(t, q.Retry(ctx, job))
	dlq, err := mr.List(QueueDLQ)
	require.NoError(t, err)
	assert.Len(t, dlq, 1)
	assert.Equal(t, MaxRetries, job.Attempt)
}
