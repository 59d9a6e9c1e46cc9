package http

import (
	"net/http"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/stateset/commerce-core/internal/outbox"
	"github.com/stateset/commerce-core/internal/repository"
	"github.com/stateset/commerce-core/internal/reqcontext"
	"github.com/stateset/commerce-core/internal/service"
)

// Services bundles the aggregate services a Router dispatches commands to.
type Services struct {
	Order         service.OrderService
	Shipment      service.ShipmentService
	PurchaseOrder service.PurchaseOrderService
	Return        service.ReturnService
}

// RouterConfig collects everything NewRouter needs to wire the full
// HTTP surface: per-aggregate command handlers, admin outbox endpoints,
// and health/readiness/metrics probes.
type RouterConfig struct {
	Services      Services
	OutboxRepo    repository.OutboxRepository
	Dispatcher    *outbox.Dispatcher
	Carriers      repository.CarrierRepository
	Suppliers     repository.SupplierRepository
	DB            *pgxpool.Pool
	KafkaProducer sarama.SyncProducer
	Logger        zerolog.Logger
}

// NewRouter builds the top-level mux: health/ready/metrics probes, the
// per-aggregate command handlers, and the admin outbox endpoints, all
// wrapped in correlation-ID and request-logging middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", HealthHandler())
	mux.Handle("GET /readyz", ReadyHandler(cfg.DB, cfg.KafkaProducer, cfg.Logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	NewOrderHandler(cfg.Services.Order, cfg.Logger).Register(mux)
	NewShipmentHandler(cfg.Services.Shipment, cfg.Logger).Register(mux)
	NewPurchaseOrderHandler(cfg.Services.PurchaseOrder, cfg.Logger).Register(mux)
	NewReturnHandler(cfg.Services.Return, cfg.Logger).Register(mux)
	NewAdminHandler(cfg.OutboxRepo, cfg.Dispatcher, cfg.Logger).Register(mux)
	NewReferenceHandler(cfg.Carriers, cfg.Suppliers, cfg.Logger).Register(mux)

	var handler http.Handler = mux
	handler = reqcontext.Logging(cfg.Logger)(handler)
	handler = reqcontext.Correlation(handler)
	return handler
}
