// Package outbox implements the dispatcher half of the transactional
// outbox pattern: polling rows a command inserted in the same
// transaction as its business mutation, delivering each to a Sink at
// least once, and recovering rows left Processing by a dispatcher that
// crashed mid-delivery.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stateset/commerce-core/internal/models"
	"github.com/stateset/commerce-core/internal/observability"
	"github.com/stateset/commerce-core/internal/reqcontext"
	"github.com/stateset/commerce-core/internal/repository"
)

// Sink delivers one claimed outbox event to its destination (Kafka, the
// in-process event bus, or any other downstream consumer).
type Sink interface {
	Publish(ctx context.Context, event *models.OutboxEvent) error
}

// Config governs dispatcher polling and retry behavior.
type Config struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	Workers         int
	StuckAfter      time.Duration
	CleanupAfter    time.Duration
	CleanupInterval time.Duration
}

// Dispatcher polls the outbox table and drives delivery through Sink.
type Dispatcher struct {
	repo    repository.OutboxRepository
	sink    Sink
	cfg     Config
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func New(repo repository.OutboxRepository, sink Sink, cfg Config, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		sink:    sink,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger.With().Str("component", "outbox_dispatcher").Logger(),
	}
}

// Run polls until ctx is cancelled. It is meant to run as one
// supervised background goroutine; multiple instances (or replicas)
// can run Run concurrently against the same table since ClaimBatch
// uses SELECT ... FOR UPDATE SKIP LOCKED.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info().Msg("outbox dispatcher started")
	pollTicker := time.NewTicker(d.cfg.PollInterval)
	defer pollTicker.Stop()

	recoveryTicker := time.NewTicker(d.cfg.StuckAfter)
	defer recoveryTicker.Stop()

	cleanupTicker := time.NewTicker(d.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("outbox dispatcher stopping")
			return
		case <-pollTicker.C:
			d.dispatchBatch(ctx)
		case <-recoveryTicker.C:
			d.recoverStuck(ctx)
		case <-cleanupTicker.C:
			d.cleanup(ctx)
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) {
	events, err := d.repo.ClaimBatch(ctx, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("claim outbox batch")
		return
	}
	if len(events) == 0 {
		return
	}

	sem := make(chan struct{}, d.cfg.Workers)
	done := make(chan struct{}, len(events))
	for _, event := range events {
		sem <- struct{}{}
		go func(e *models.OutboxEvent) {
			defer func() { <-sem; done <- struct{}{} }()
			d.deliver(ctx, e)
		}(event)
	}
	for range events {
		<-done
	}
}

func (d *Dispatcher) deliver(ctx context.Context, event *models.OutboxEvent) {
	start := time.Now()
	deliverCtx := ctx
	if event.Metadata != nil {
		var meta models.WireMetadata
		if err := json.Unmarshal(event.Metadata, &meta); err == nil && meta.CorrelationID != "" {
			deliverCtx = reqcontext.WithCorrelationID(ctx, meta.CorrelationID)
		}
	}

	err := d.sink.Publish(deliverCtx, event)
	if err == nil {
		d.metrics.OutboxDispatchDuration.WithLabelValues(event.EventType, "success").Observe(time.Since(start).Seconds())
		d.metrics.OutboxEventsPublished.WithLabelValues(event.EventType).Inc()
		if markErr := d.repo.MarkDelivered(ctx, event.ID); markErr != nil {
			d.logger.Error().Err(markErr).Str("event_id", event.ID.String()).Msg("mark outbox event delivered")
		}
		return
	}

	d.metrics.OutboxDispatchDuration.WithLabelValues(event.EventType, "error").Observe(time.Since(start).Seconds())
	delay := retryDelay(event.Attempts)
	availableAt := time.Now().Add(delay)
	d.logger.Warn().
		Err(err).
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Int("attempt", event.Attempts+1).
		Dur("retry_in", delay).
		Msg("outbox delivery failed")

	if markErr := d.repo.MarkFailed(ctx, event.ID, err.Error(), availableAt, d.cfg.MaxAttempts); markErr != nil {
		d.logger.Error().Err(markErr).Str("event_id", event.ID.String()).Msg("mark outbox event failed")
	}
	if event.Attempts+1 >= d.cfg.MaxAttempts {
		d.metrics.OutboxEventsFailed.WithLabelValues(event.EventType).Inc()
	}
}

// retryDelay computes the delay before the next delivery of an event
// that has already failed attempts times: 1s after the first failure,
// doubling each time up to a 5-minute interval, with backoff's default
// randomization factor (±50%) applied to each interval as jitter.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Minute
	b.Reset()
	delay := b.NextBackOff()
	for i := 0; i < attempts; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

func (d *Dispatcher) recoverStuck(ctx context.Context) {
	n, err := d.repo.ResetStuckProcessing(ctx, d.cfg.StuckAfter)
	if err != nil {
		d.logger.Error().Err(err).Msg("reset stuck outbox events")
		return
	}
	if n > 0 {
		d.logger.Warn().Int64("count", n).Msg("recovered stuck outbox events")
	}
}

func (d *Dispatcher) cleanup(ctx context.Context) {
	n, err := d.repo.CleanupDelivered(ctx, d.cfg.CleanupAfter)
	if err != nil {
		d.logger.Error().Err(err).Msg("cleanup delivered outbox events")
		return
	}
	if n > 0 {
		d.logger.Debug().Int64("count", n).Msg("cleaned up delivered outbox events")
	}
}

// Retry resets one Failed event back to Pending for immediate
// redispatch, used by the admin retry endpoint.
func (d *Dispatcher) Retry(ctx context.Context, eventID uuid.UUID) error {
	return d.repo.Retry(ctx, eventID)
}
