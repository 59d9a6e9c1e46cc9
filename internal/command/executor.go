// Package command generalizes the validate -> idempotency-check ->
// begin-transaction -> mutate -> outbox-insert -> commit -> bus-publish ->
// idempotency-store -> metrics skeleton every order/shipment/purchase-order/return
// command follows, so each aggregate service supplies only the parts
// specific to its own command.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/domainerr"
	"github.com/stateset/commerce-core/internal/eventbus"
	"github.com/stateset/commerce-core/internal/idempotency"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stateset/commerce-core/internal/repository"
)

// Key identifies one idempotent request.
type Key struct {
	Method string
	Path   string
	Token  string // caller-supplied Idempotency-Key header value
}

// Spec supplies the per-command pieces the Executor wires together.
// TReq is the validated request type; TResult is what the command
// returns to its caller on success.
type Spec[TReq any, TResult any] struct {
	// Name labels this command for logging and the CommandDuration metric.
	Name string

	// Validate runs before anything else. Return a *domainerr.Error
	// with KindValidation on failure.
	Validate func(req TReq) error

	// Execute runs inside the transaction and performs the mutation,
	// including inserting any outbox row(s) via tx. Its return value
	// becomes the cached idempotent response and the Executor's result.
	Execute func(ctx context.Context, tx pgx.Tx, req TReq) (TResult, error)

	// Event builds the in-process notification for a successful run, if
	// this command has one. It is published synchronously right after
	// the transaction commits, independent of whatever outbox row
	// Execute wrote in the same transaction: the outbox is the durable,
	// at-least-once path to external consumers; this is the best-effort,
	// commit-time, once-only path to in-process subscribers. The two
	// never share a delivery mechanism. Nil means the command publishes
	// nothing on the bus.
	Event func(ctx context.Context, result TResult) eventbus.Event
}

// Executor runs a Spec under the idempotency and transaction
// disciplines shared by every command in this module.
type Executor struct {
	db      repository.Database
	store   idempotency.Store
	bus     *eventbus.Bus
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewExecutor(db repository.Database, store idempotency.Store, bus *eventbus.Bus, metrics *observability.Metrics, logger zerolog.Logger) *Executor {
	return &Executor{
		db:      db,
		store:   store,
		bus:     bus,
		metrics: metrics,
		logger:  logger.With().Str("component", "command_executor").Logger(),
	}
}

// Run executes spec for key/req, replaying a cached response when key
// has already been used for an identical request, and rejecting
// concurrent duplicate in-flight requests under the same key.
func Run[TReq any, TResult any](ctx context.Context, e *Executor, key Key, req TReq, spec Spec[TReq, TResult]) (TResult, error) {
	start := time.Now()
	var zero TResult

	if spec.Validate != nil {
		if err := spec.Validate(req); err != nil {
			e.observe(spec.Name, "validation_error", start)
			return zero, err
		}
	}

	requestHash, err := repository.ComputeRequestHash(req)
	if err != nil {
		return zero, domainerr.Internal(fmt.Errorf("compute request hash: %w", err))
	}

	if key.Token != "" {
		if cached, hit, err := e.store.Get(ctx, key.Method, key.Path, key.Token); err != nil {
			return zero, domainerr.Internal(err)
		} else if hit {
			if cached.RequestHash != requestHash {
				e.metrics.IdempotencyConflictsTotal.WithLabelValues(key.Method).Inc()
				return zero, domainerr.Conflict("idempotency key reused with a different request body")
			}
			e.metrics.IdempotencyHitsTotal.WithLabelValues(key.Method).Inc()
			var result TResult
			if err := json.Unmarshal(cached.ResponseBody, &result); err != nil {
				return zero, domainerr.Internal(fmt.Errorf("unmarshal cached response: %w", err))
			}
			e.observe(spec.Name, "idempotent_replay", start)
			return result, nil
		}

		locked, err := e.store.TryLock(ctx, key.Method, key.Path, key.Token)
		if err != nil {
			return zero, domainerr.Internal(err)
		}
		if !locked {
			e.metrics.IdempotencyConflictsTotal.WithLabelValues(key.Method).Inc()
			return zero, domainerr.Conflict("a request with this idempotency key is already in progress")
		}
		defer e.store.ReleaseLock(ctx, key.Method, key.Path, key.Token)
	}

	tx, err := e.db.Begin(ctx)
	if err != nil {
		e.observe(spec.Name, "error", start)
		return zero, domainerr.Database(err)
	}
	defer tx.Rollback(ctx)

	result, err := spec.Execute(ctx, tx, req)
	if err != nil {
		e.observe(spec.Name, "error", start)
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		e.observe(spec.Name, "error", start)
		return zero, domainerr.Database(err)
	}

	// Fires synchronously, independent of the durable outbox row Execute
	// already wrote: a dispatcher retry or a Kafka outage must never
	// delay or duplicate this notification.
	if e.bus != nil && spec.Event != nil {
		e.bus.Publish(ctx, spec.Event(ctx, result))
	}

	if key.Token != "" {
		responseBody, err := json.Marshal(result)
		if err != nil {
			// The business mutation already committed; only the cache
			// entry is missing, so a retry under the same key will
			// simply re-execute rather than replay.
			e.logger.Error().Err(err).Str("command", spec.Name).Msg("marshal response for idempotency cache")
		} else if err := e.store.Put(ctx, key.Method, key.Path, key.Token, idempotency.Record{
			RequestHash:  requestHash,
			ResponseCode: 200,
			ResponseBody: responseBody,
		}); err != nil {
			e.logger.Error().Err(err).Str("command", spec.Name).Msg("store idempotency record")
		}
	}

	e.observe(spec.Name, "success", start)
	return result, nil
}

func (e *Executor) observe(name, status string, start time.Time) {
	e.metrics.CommandDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
}
