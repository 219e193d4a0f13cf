package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crewdesk/backend/pkg/queue"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	puts    int
}

func newMemStore() *memStore { return &memStore{objects: make(map[string][]byte)} }

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) Put(_ context.Context, key, _ string, body io.Reader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = b
	m.puts++
	return nil
}

func (m *memStore) get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

func newTestQueue(t *testing.T) (*queue.Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return queue.NewQueue(client, nil), mr
}

func archiveJob(t *testing.T, eventID string) *queue.Job {
	t.Helper()
	body, err := json.Marshal(queue.BillingArchivePayload{
		EventID:    eventID,
		EventType:  "invoice.paid",
		Outcome:    "applied",
		ReceivedAt: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		Raw:        json.RawMessage(`{"id":"` + eventID + `"}`),
	})
	require.NoError(t, err)
	return &queue.Job{ID: "job-" + eventID, Type: queue.JobTypeBillingArchive, Payload: body}
}

func TestProcessArchivesOnce(t *testing.T) {
	store := newMemStore()
	q, _ := newTestQueue(t)
	p := NewArchiveProcessor(store, q, zap.NewNop())

	require.NoError(t, p.Process(context.Background(), archiveJob(t, "evt_1")))
	got, ok := store.get("billing-events/2026/04/evt_1.json")
	require.True(t, ok)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(got))

	require.NoError(t, p.Process(context.Background(), archiveJob(t, "evt_1")))
	assert.Equal(t, 1, store.puts)
}

func TestProcessRejectsBadJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	p := NewArchiveProcessor(newMemStore(), q, nil)

	assert.Error(t, p.Process(context.Background(), &queue.Job{ID: "x", Type: "other"}))
	assert.Error(t, p.Process(context.Background(), &queue.Job{ID: "x", Type: queue.JobTypeBillingArchive, Payload: json.RawMessage(`{}`)}))
	assert.Error(t, p.Process(context.Background(), &queue.Job{ID: "x", Type: queue.JobTypeBillingArchive, Payload: json.RawMessage(`[`)}))
}

func TestRunProcessesQueuedJobs(t *testing.T) {
	store := newMemStore()
	q, _ := newTestQueue(t)
	p := NewArchiveProcessor(store, q, zap.NewNop())
	p.poll = 100 * time.Millisecond

	require.NoError(t, q.EnqueueBillingArchive(context.Background(), queue.BillingArchivePayload{
		EventID:    "evt_9",
		ReceivedAt: time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC),
		Raw:        json.RawMessage(`{"id":"evt_9"}`),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		_, ok := store.get("billing-events/2026/01/evt_9.json")
		return ok
	}, 3*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestRunRetriesThenDeadLetters(t *testing.T) {
	store := newMemStore()
	store.putErr = errors.New("s3 down")
	q, mr := newTestQueue(t)
	p := NewArchiveProcessor(store, q, zap.NewNop())
	p.poll = 50 * time.Millisecond
	p.backoff = time.Millisecond

	require.NoError(t, q.EnqueueBillingArchive(context.Background(), queue.BillingArchivePayload{
		EventID:    "evt_f",
		ReceivedAt: time.Now(),
		Raw:        json.RawMessage(`{}`),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.Eventually(t, func() bool {
		dlq, err := mr.List(queue.QueueDLQ)
		return err == nil && len(dlq) == 1
	}, 5*time.Second, 20*time.Millisecond)
}
