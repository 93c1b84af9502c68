package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djesaja/backstage-ingest/internal/metrics"
	"github.com/djesaja/backstage-ingest/internal/model"
	"github.com/djesaja/backstage-ingest/internal/resilience"
)

type fakeIngester struct {
	err   error
	calls int
}

func (f *fakeIngester) Ingest(_ context.Context, _ model.ManagerUnit, _ string) (Stats, error) {
	f.calls++
	if f.err != nil {
		return Stats{}, f.err
	}
	return Stats{Creators: 1, Batches: 1}, nil
}

type fakeQueue struct {
	entries     []resilience.DLQEntry
	enqueued    []resilience.DLQEntry
	removed     []string
	incremented map[string]string
	enqueueErr  error
}

func (f *fakeQueue) EnqueueDLQ(_ context.Context, e resilience.DLQEntry) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, e)
	return nil
}

func (f *fakeQueue) DequeueDLQ(_ context.Context, _ resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return f.entries, nil
}

func (f *fakeQueue) IncrementDLQRetry(_ context.Context, id string, _ time.Time, lastErr string) error {
	if f.incremented == nil {
		f.incremented = map[string]string{}
	}
	f.incremented[id] = lastErr
	return nil
}

func (f *fakeQueue) RemoveDLQ(_ context.Context, id string) error {
	f.removed = append(f.removed, id)
	return nil
}

func TestDeadLetterSink_PassesThroughSuccess(t *testing.T) {
	q := &fakeQueue{}
	d := NewDeadLetterSink(&fakeIngester{}, q, 3, nil)

	stats, err := d.Ingest(context.Background(), unit("A", "0"), testPeriod)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Creators)
	assert.Empty(t, q.enqueued)
}

func TestDeadLetterSink_ParksFailure(t *testing.T) {
	q := &fakeQueue{}
	m := metrics.New()
	d := NewDeadLetterSink(&fakeIngester{err: errors.New("database is locked")}, q, 3, m)
	fixed := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	_, err := d.Ingest(context.Background(), unit("Agency", "0"), testPeriod)
	require.NoError(t, err)

	require.Len(t, q.enqueued, 1)
	e := q.enqueued[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, testPeriod, e.Period)
	assert.Equal(t, "Agency", e.Unit.Name())
	assert.Equal(t, resilience.ErrorTypeTransient, e.ErrorType)
	assert.Equal(t, 3, e.MaxRetries)
	assert.Equal(t, fixed.Add(time.Minute), e.NextRetryAt)
}

func TestDeadLetterSink_PermanentFailure(t *testing.T) {
	q := &fakeQueue{}
	d := NewDeadLetterSink(&fakeIngester{err: errors.New("constraint failed")}, q, 3, nil)

	_, err := d.Ingest(context.Background(), unit("Agency", "0"), testPeriod)
	require.NoError(t, err)
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, resilience.ErrorTypePermanent, q.enqueued[0].ErrorType)
}

func TestDeadLetterSink_EnqueueErrorReturned(t *testing.T) {
	q := &fakeQueue{enqueueErr: errors.New("queue down")}
	d := NewDeadLetterSink(&fakeIngester{err: errors.New("boom")}, q, 3, nil)

	_, err := d.Ingest(context.Background(), unit("Agency", "0"), testPeriod)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue down")
}

func TestReplay(t *testing.T) {
	q := &fakeQueue{entries: []resilience.DLQEntry{
		{ID: "ok", Period: testPeriod, Unit: unit("A", "0"), MaxRetries: 3},
	}}
	res, err := Replay(context.Background(), q, &fakeIngester{}, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Replayed: 1}, res)
	assert.Equal(t, []string{"ok"}, q.removed)
}

func TestReplay_FailureReschedules(t *testing.T) {
	q := &fakeQueue{entries: []resilience.DLQEntry{
		{ID: "bad", Period: testPeriod, Unit: unit("A", "0"), MaxRetries: 3},
	}}
	res, err := Replay(context.Background(), q, &fakeIngester{err: errors.New("still broken")}, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Equal(t, ReplayResult{Failed: 1}, res)
	assert.Empty(t, q.removed)
	assert.Equal(t, "still broken", q.incremented["bad"])
}

func TestReplay_AgainstStore(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		ID: "dlq-1", Period: testPeriod, Unit: unit("Agency", "1", creator("alice", "C1", "M1")),
		Error: "boom", ErrorType: resilience.ErrorTypeTransient, MaxRetries: 3,
		NextRetryAt: past, CreatedAt: past, LastFailedAt: past,
	}))

	res, err := Replay(ctx, st, NewSink(st, 10, nil), resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)

	_, creators := records(t, st)
	assert.Len(t, creators, 1)

	left, err := st.ListDLQ(ctx, resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, left)
}
