package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/medilink-backend/api/controllers"
	"github.com/angelmondragon/medilink-backend/api/middleware"
	"github.com/angelmondragon/medilink-backend/internal/ledger"
	"github.com/angelmondragon/medilink-backend/internal/settlement"
	"github.com/angelmondragon/medilink-backend/pkg/config"
	"github.com/angelmondragon/medilink-backend/pkg/db"
	"github.com/angelmondragon/medilink-backend/pkg/logger"
	"github.com/angelmondragon/medilink-backend/pkg/redis"
)

// Store is the redis surface the router needs: idempotency records, request
// counting and a readiness ping. *redis.Client satisfies it.
type Store interface {
	redis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (redis.WindowResult, error)
	Ping(ctx context.Context) error
}

// NewRouter wires every HTTP route. store may be nil, in which case
// idempotency replay and rate limiting are disabled. A nil gatherer exposes
// the default prometheus registry.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	store Store,
	gatherer prometheus.Gatherer,
	settlementService settlement.Service,
	ledgerService ledger.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS.AllowedOrigins),
	)

	var idempotencyStore redis.IdempotencyStore
	readiness := []controllers.ReadinessCheck{{Name: "db", Pinger: dbP}}
	if store != nil {
		idempotencyStore = store
		readiness = append(readiness, controllers.ReadinessCheck{Name: "redis", Pinger: store})
	}

	settlementPolicy := middleware.NewRateLimitPolicy("settlement", cfg.RateLimit.Window, cfg.RateLimit.SettlementLimit)
	purchasePolicy := middleware.NewRateLimitPolicy("purchase", cfg.RateLimit.Window, cfg.RateLimit.PurchaseLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness...))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.With(rateLimit(settlementPolicy, store, logg)).Post("/settlements", controllers.SettleBill(settlementService, logg))

		r.Route("/medicines/{medicineKey}", func(r chi.Router) {
			r.With(rateLimit(purchasePolicy, store, logg)).Post("/purchase", controllers.PurchaseMedicine(settlementService, logg))
			r.Get("/stock", controllers.MedicineStock(ledgerService, logg))
		})

		r.Route("/bills/{billId}", func(r chi.Router) {
			r.Get("/", controllers.GetBill(ledgerService, logg))
			r.Get("/payments", controllers.ListBillPayments(ledgerService, logg))
		})

		r.Get("/payments/{paymentId}", controllers.GetPayment(ledgerService, logg))
	})

	return r
}

func rateLimit(policy middleware.RateLimitPolicy, store Store, logg *logger.Logger) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(policy, store, logg)
}
