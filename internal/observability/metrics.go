package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for commerce-core.
type Metrics struct {
	// Order operations
	OrdersPlacedTotal    *prometheus.CounterVec
	OrdersCancelledTotal *prometheus.CounterVec
	OrdersShippedTotal   *prometheus.CounterVec
	OrdersRefundedTotal  *prometheus.CounterVec

	OrderAmountTotal prometheus.Counter
	RefundAmountTotal prometheus.Counter

	ActiveOrders prometheus.Gauge

	// Inventory
	InventoryReservationsTotal  *prometheus.CounterVec
	InventoryInsufficientTotal  *prometheus.CounterVec
	InventoryAvailableGauge     *prometheus.GaugeVec
	BackorderQueueDepth         *prometheus.GaugeVec
	BackorderFilledTotal        *prometheus.CounterVec

	// Command/service performance
	CommandDuration *prometheus.HistogramVec

	// Database
	DatabaseOperationDuration *prometheus.HistogramVec
	DatabaseErrors            *prometheus.CounterVec

	// Outbox dispatcher
	OutboxEventsPublished *prometheus.CounterVec
	OutboxEventsFailed    *prometheus.CounterVec
	OutboxDispatchDuration *prometheus.HistogramVec
	OutboxBacklog          prometheus.Gauge

	// In-process event bus
	EventBusDroppedTotal *prometheus.CounterVec

	// Idempotency
	IdempotencyHitsTotal      *prometheus.CounterVec
	IdempotencyConflictsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates metrics with a custom registry (useful for testing).
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OrdersPlacedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_orders_placed_total",
				Help: "Total number of orders placed",
			},
			[]string{"currency"},
		),
		OrdersCancelledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_orders_cancelled_total",
				Help: "Total number of orders cancelled",
			},
			[]string{"reason"},
		),
		OrdersShippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_orders_shipped_total",
				Help: "Total number of orders shipped",
			},
			[]string{"carrier"},
		),
		OrdersRefundedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_orders_refunded_total",
				Help: "Total number of orders refunded",
			},
			[]string{"kind"}, // full, partial
		),
		OrderAmountTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "commerce_order_amount_total",
				Help: "Total amount of all orders placed",
			},
		),
		RefundAmountTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "commerce_refund_amount_total",
				Help: "Total amount refunded across all orders",
			},
		),
		ActiveOrders: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "commerce_active_orders",
				Help: "Number of orders not yet in a terminal state",
			},
		),
		InventoryReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_inventory_reservations_total",
				Help: "Total number of reservations created",
			},
			[]string{"backorder"},
		),
		InventoryInsufficientTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_inventory_insufficient_total",
				Help: "Total number of reservation attempts rejected for insufficient stock",
			},
			[]string{"item_id"},
		),
		InventoryAvailableGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "commerce_inventory_available",
				Help: "Current available quantity per item/location",
			},
			[]string{"item_id", "location"},
		),
		BackorderQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "commerce_backorder_queue_depth",
				Help: "Number of pending backorder reservations per item/location",
			},
			[]string{"item_id", "location"},
		),
		BackorderFilledTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_backorder_filled_total",
				Help: "Total number of backorder reservations filled by restock matching",
			},
			[]string{"item_id"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commerce_command_duration_seconds",
				Help:    "Duration of command executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command", "status"},
		),
		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commerce_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		DatabaseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_database_errors_total",
				Help: "Total number of database errors",
			},
			[]string{"operation", "error_type"},
		),
		OutboxEventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_outbox_events_published_total",
				Help: "Total number of outbox events successfully published",
			},
			[]string{"event_type"},
		),
		OutboxEventsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_outbox_events_failed_total",
				Help: "Total number of outbox events that exhausted retries",
			},
			[]string{"event_type"},
		),
		OutboxDispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "commerce_outbox_dispatch_duration_seconds",
				Help:    "Duration of a single outbox dispatch attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type", "status"},
		),
		OutboxBacklog: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "commerce_outbox_backlog",
				Help: "Number of outbox rows currently pending dispatch",
			},
		),
		EventBusDroppedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_eventbus_dropped_total",
				Help: "Total number of in-process events dropped because a subscriber's channel was full",
			},
			[]string{"event_type"},
		),
		IdempotencyHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_idempotency_hits_total",
				Help: "Total number of requests replayed from an idempotency cache",
			},
			[]string{"method"},
		),
		IdempotencyConflictsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "commerce_idempotency_conflicts_total",
				Help: "Total number of idempotency key reuses with a mismatched request hash or concurrent in-flight request",
			},
			[]string{"method"},
		),
	}
}
