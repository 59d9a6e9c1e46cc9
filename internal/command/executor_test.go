package command

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/eventbus"
	"github.com/stateset/commerce-core/internal/idempotency"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, bus *eventbus.Bus) (*Executor, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	metrics := observability.NewMetricsWithRegistry(prometheus.NewRegistry())
	store := idempotency.NewMemoryStore(idempotency.Config{ResponseTTL: 10 * time.Minute, LockTTL: time.Minute})
	return NewExecutor(mockPool, store, bus, metrics, zerolog.Nop()), mockPool
}

func TestRun_PublishesBusEventOnlyAfterCommit(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	ch, unsubscribe := bus.Subscribe("widget.created")
	defer unsubscribe()

	exec, pool := newTestExecutor(t, bus)
	pool.ExpectBegin()
	pool.ExpectCommit()

	spec := Spec[string, string]{
		Name: "create_widget",
		Execute: func(ctx context.Context, tx pgx.Tx, req string) (string, error) {
			return req + "-created", nil
		},
		Event: func(ctx context.Context, result string) eventbus.Event {
			return eventbus.Event{Type: "widget.created", Payload: result}
		},
	}

	result, err := Run(context.Background(), exec, Key{Method: "POST", Path: "/widgets"}, "w1", spec)
	require.NoError(t, err)
	assert.Equal(t, "w1-created", result)

	select {
	case evt := <-ch:
		assert.Equal(t, "widget.created", evt.Type)
		assert.Equal(t, "w1-created", evt.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected bus event after commit, got none")
	}
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestRun_NoBusEventOnExecuteFailure(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	ch, unsubscribe := bus.Subscribe("widget.created")
	defer unsubscribe()

	exec, pool := newTestExecutor(t, bus)
	pool.ExpectBegin()
	pool.ExpectRollback()

	spec := Spec[string, string]{
		Name: "create_widget",
		Execute: func(ctx context.Context, tx pgx.Tx, req string) (string, error) {
			return "", domainerr.Validation("req", "boom")
		},
		Event: func(ctx context.Context, result string) eventbus.Event {
			return eventbus.Event{Type: "widget.created", Payload: result}
		},
	}

	_, err := Run(context.Background(), exec, Key{Method: "POST", Path: "/widgets"}, "w1", spec)
	require.Error(t, err)

	select {
	case <-ch:
		t.Fatal("bus must not receive an event for a failed command")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRun_NilBusIsSafeNoop(t *testing.T) {
	exec, pool := newTestExecutor(t, nil)
	pool.ExpectBegin()
	pool.ExpectCommit()

	spec := Spec[string, string]{
		Name: "create_widget",
		Execute: func(ctx context.Context, tx pgx.Tx, req string) (string, error) {
			return req, nil
		},
		Event: func(ctx context.Context, result string) eventbus.Event {
			return eventbus.Event{Type: "widget.created", Payload: result}
		},
	}

	result, err := Run(context.Background(), exec, Key{Method: "POST", Path: "/widgets"}, "w1", spec)
	require.NoError(t, err)
	assert.Equal(t, "w1", result)
}

func TestRun_IdempotentReplaySkipsSecondExecute(t *testing.T) {
	bus := eventbus.New(zerolog.Nop(), nil)
	exec, pool := newTestExecutor(t, bus)
	pool.ExpectBegin()
	pool.ExpectCommit()

	calls := 0
	spec := Spec[string, string]{
		Name: "create_widget",
		Execute: func(ctx context.Context, tx pgx.Tx, req string) (string, error) {
			calls++
			return req + "-created", nil
		},
	}

	key := Key{Method: "POST", Path: "/widgets", Token: "idem-1"}
	first, err := Run(context.Background(), exec, key, "w1", spec)
	require.NoError(t, err)

	second, err := Run(context.Background(), exec, key, "w1", spec)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, calls)
	require.NoError(t, pool.ExpectationsWereMet())
}

func TestRun_IdempotencyConflictOnChangedRequest(t *testing.T) {
	exec, pool := newTestExecutor(t, nil)
	pool.ExpectBegin()
	pool.ExpectCommit()

	spec := Spec[string, string]{
		Name: "create_widget",
		Execute: func(ctx context.Context, tx pgx.Tx, req string) (string, error) {
			return req, nil
		},
	}

	key := Key{Method: "POST", Path: "/widgets", Token: "idem-2"}
	_, err := Run(context.Background(), exec, key, "w1", spec)
	require.NoError(t, err)

	_, err = Run(context.Background(), exec, key, "w2", spec)
	require.Error(t, err)
}
