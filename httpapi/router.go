// Package httpapi exposes the lending market's Coordinator over HTTP,
// adapted from the teacher's gateway/routes/lending.go layout (chi routes
// under a versioned prefix) but talking to the Coordinator directly with
// JSON instead of proxying a gRPC client through protojson.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/weftfinance/lending-market/auth"
	"github.com/weftfinance/lending-market/lendingmarket"
)

// Server wires a Coordinator to an HTTP mux.
type Server struct {
	coordinator *lendingmarket.Coordinator
	verifier    *auth.Verifier
	limiter     *RateLimiter
	logger      *slog.Logger
	idempotency *idempotencyStore
}

// NewServer constructs a Server. verifier may be nil to disable
// authentication entirely (useful for local development); limiter may be
// nil to disable rate limiting entirely (useful for tests).
func NewServer(coordinator *lendingmarket.Coordinator, verifier *auth.Verifier, limiter *RateLimiter, logger *slog.Logger) *Server {
	return &Server{coordinator: coordinator, verifier: verifier, limiter: limiter, logger: logger, idempotency: newIdempotencyStore()}
}

// DefaultRateLimits sizes the "mutate" and "query" buckets used by Router:
// state-changing lending operations (borrow, repay, liquidate, flash loans)
// are throttled tighter than read-only pool/CDP lookups.
func DefaultRateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"mutate": {RatePerSecond: 10, Burst: 20},
		"query":  {RatePerSecond: 100, Burst: 200},
	}
}

// Router builds the chi mux for the lending market's v1 HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "lending-market")
	})

	r.Route("/v1/lending", func(r chi.Router) {
		r.Use(s.idempotency.WithIdempotency)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit("query"))
			r.Get("/pools", s.handleListPools)
			r.Get("/pools/{resource}", s.handleGetPool)
			r.Get("/cdps/{id}", s.handleGetCDP)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit("mutate"))

			r.Post("/pools/{resource}/contribute", s.handleContribute)
			r.Post("/pools/{resource}/redeem", s.handleRedeem)

			r.Post("/cdps", s.handleCreateCDP)
			r.Post("/cdps/delegatee", s.handleCreateDelegateeCDP)
			r.Post("/cdps/{id}/collateral", s.handleAddCollateral)
			r.Delete("/cdps/{id}/collateral", s.handleRemoveCollateral)
			r.Post("/cdps/{id}/borrow", s.handleBorrow)
			r.Post("/cdps/{id}/repay", s.handleRepay)
			r.Post("/cdps/{id}/refinance", s.handleRefinance)

			r.Post("/flashloan/take", s.handleTakeFlashLoan)
			r.Post("/flashloan/repay", s.handleRepayFlashLoan)

			r.Post("/liquidation/start", s.handleStartLiquidation)
			r.Post("/liquidation/end", s.handleEndLiquidation)
			r.Post("/liquidation/fast", s.handleFastLiquidation)

			if s.verifier != nil {
				r.Group(func(r chi.Router) {
					r.Use(s.verifier.RequireRole(auth.RoleAdmin, auth.RoleModerator))
					r.Post("/pools", s.handleCreatePool)
					r.Patch("/pools/{resource}/config", s.handleUpdatePoolConfig)
					r.Patch("/operating-status", s.handleUpdateOperatingStatus)
				})
				r.Group(func(r chi.Router) {
					r.Use(s.verifier.RequireRole(auth.RoleReserveCollector))
					r.Post("/pools/{resource}/reserve", s.handleCollectReserve)
				})
			} else {
				r.Post("/pools", s.handleCreatePool)
				r.Patch("/pools/{resource}/config", s.handleUpdatePoolConfig)
				r.Patch("/operating-status", s.handleUpdateOperatingStatus)
				r.Post("/pools/{resource}/reserve", s.handleCollectReserve)
			}
		})
	})

	return r
}

// rateLimit returns the limiter middleware for key, or a no-op when the
// server was built without a RateLimiter.
func (s *Server) rateLimit(key string) func(http.Handler) http.Handler {
	if s.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.limiter.Middleware(key)
}
