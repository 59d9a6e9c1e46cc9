package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOutboxRepo is an in-memory stand-in for PostgresOutboxRepository,
// preserving claim/deliver/retry/cleanup semantics without a database.
type fakeOutboxRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*models.OutboxEvent
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{events: map[uuid.UUID]*models.OutboxEvent{}}
}

func (f *fakeOutboxRepo) seed(e *models.OutboxEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[e.ID] = e
}

func (f *fakeOutboxRepo) Create(ctx context.Context, tx pgx.Tx, event *models.OutboxEvent) error {
	return nil
}

func (f *fakeOutboxRepo) ClaimBatch(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []*models.OutboxEvent
	now := time.Now()
	for _, e := range f.events {
		if len(claimed) >= limit {
			break
		}
		if e.Status == models.OutboxStatusPending && !e.AvailableAt.After(now) {
			e.Status = models.OutboxStatusProcessing
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

func (f *fakeOutboxRepo) MarkDelivered(ctx context.Context, eventID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return errors.New("not found")
	}
	e.Status = models.OutboxStatusDelivered
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string, availableAt time.Time, maxAttempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return errors.New("not found")
	}
	e.Attempts++
	e.ErrorMessage = &errMsg
	e.AvailableAt = availableAt
	if e.Attempts >= maxAttempts {
		e.Status = models.OutboxStatusFailed
	} else {
		e.Status = models.OutboxStatusPending
	}
	return nil
}

func (f *fakeOutboxRepo) ResetStuckProcessing(ctx context.Context, staleAfter time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-staleAfter)
	for _, e := range f.events {
		if e.Status == models.OutboxStatusProcessing && e.UpdatedAt != nil && e.UpdatedAt.Before(cutoff) {
			e.Status = models.OutboxStatusPending
			n++
		}
	}
	return n, nil
}

func (f *fakeOutboxRepo) ListByStatus(ctx context.Context, status models.OutboxStatus, limit, offset int) ([]*models.OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) Retry(ctx context.Context, eventID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.events[eventID]
	if !ok {
		return errors.New("not found")
	}
	e.Status = models.OutboxStatusPending
	e.AvailableAt = time.Now()
	return nil
}

func (f *fakeOutboxRepo) CleanupDelivered(ctx context.Context, olderThan time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-olderThan)
	for id, e := range f.events {
		if e.Status == models.OutboxStatusDelivered && e.UpdatedAt != nil && e.UpdatedAt.Before(cutoff) {
			delete(f.events, id)
			n++
		}
	}
	return n, nil
}

// fakeSink records delivered events and can be made to fail on demand.
type fakeSink struct {
	mu        sync.Mutex
	delivered []*models.OutboxEvent
	failNext  int
}

func (s *fakeSink) Publish(ctx context.Context, event *models.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("sink unavailable")
	}
	s.delivered = append(s.delivered, event)
	return nil
}

func newTestDispatcher(repo *fakeOutboxRepo, sink Sink, cfg Config) *Dispatcher {
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	return New(repo, sink, cfg, metrics, zerolog.Nop())
}

func TestDispatcher_DispatchBatch_DeliversAndMarks(t *testing.T) {
	repo := newFakeOutboxRepo()
	sink := &fakeSink{}
	d := newTestDispatcher(repo, sink, Config{BatchSize: 10, Workers: 4, MaxAttempts: 3})

	event := &models.OutboxEvent{ID: uuid.New(), EventType: "order.created", Status: models.OutboxStatusPending}
	repo.seed(event)

	d.dispatchBatch(context.Background())

	assert.Equal(t, models.OutboxStatusDelivered, event.Status)
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, event.ID, sink.delivered[0].ID)
}

func TestDispatcher_DispatchBatch_RetriesOnFailureThenSucceeds(t *testing.T) {
	repo := newFakeOutboxRepo()
	sink := &fakeSink{failNext: 1}
	d := newTestDispatcher(repo, sink, Config{BatchSize: 10, Workers: 4, MaxAttempts: 3})

	event := &models.OutboxEvent{ID: uuid.New(), EventType: "order.created", Status: models.OutboxStatusPending}
	repo.seed(event)

	d.dispatchBatch(context.Background())
	assert.Equal(t, models.OutboxStatusPending, event.Status)
	assert.Equal(t, 1, event.Attempts)
	require.NotNil(t, event.ErrorMessage)

	// Second pass only redispatches once availableAt has passed.
	event.AvailableAt = time.Now().Add(-time.Second)
	d.dispatchBatch(context.Background())
	assert.Equal(t, models.OutboxStatusDelivered, event.Status)
	require.Len(t, sink.delivered, 1)
}

func TestDispatcher_DispatchBatch_MovesToFailedAfterMaxAttempts(t *testing.T) {
	repo := newFakeOutboxRepo()
	sink := &fakeSink{failNext: 10}
	d := newTestDispatcher(repo, sink, Config{BatchSize: 10, Workers: 4, MaxAttempts: 1})

	event := &models.OutboxEvent{ID: uuid.New(), EventType: "order.created", Status: models.OutboxStatusPending}
	repo.seed(event)

	d.dispatchBatch(context.Background())
	assert.Equal(t, models.OutboxStatusFailed, event.Status)
	assert.Empty(t, sink.delivered)
}

func TestDispatcher_RecoverStuck_ResetsStaleProcessing(t *testing.T) {
	repo := newFakeOutboxRepo()
	d := newTestDispatcher(repo, &fakeSink{}, Config{StuckAfter: time.Minute})

	stale := time.Now().Add(-time.Hour)
	event := &models.OutboxEvent{ID: uuid.New(), Status: models.OutboxStatusProcessing, UpdatedAt: &stale}
	repo.seed(event)

	d.recoverStuck(context.Background())
	assert.Equal(t, models.OutboxStatusPending, event.Status)
}

func TestDispatcher_Cleanup_RemovesOldDelivered(t *testing.T) {
	repo := newFakeOutboxRepo()
	d := newTestDispatcher(repo, &fakeSink{}, Config{CleanupAfter: time.Hour})

	old := time.Now().Add(-48 * time.Hour)
	event := &models.OutboxEvent{ID: uuid.New(), Status: models.OutboxStatusDelivered, UpdatedAt: &old}
	repo.seed(event)

	d.cleanup(context.Background())
	_, err := repo.ClaimBatch(context.Background(), 10)
	require.NoError(t, err)
	repo.mu.Lock()
	_, stillPresent := repo.events[event.ID]
	repo.mu.Unlock()
	assert.False(t, stillPresent)
}

func TestDispatcher_Retry_ResetsFailedEventToPending(t *testing.T) {
	repo := newFakeOutboxRepo()
	d := newTestDispatcher(repo, &fakeSink{}, Config{})

	event := &models.OutboxEvent{ID: uuid.New(), Status: models.OutboxStatusFailed}
	repo.seed(event)

	require.NoError(t, d.Retry(context.Background(), event.ID))
	assert.Equal(t, models.OutboxStatusPending, event.Status)
}
