// Package api is the broker's HTTP surface.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/auth"
	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/broker"
	"github.com/vnmchuo/gen-broker/internal/catalog"
	"github.com/vnmchuo/gen-broker/internal/jobs"
	"github.com/vnmchuo/gen-broker/internal/maintenance"
	"github.com/vnmchuo/gen-broker/internal/metrics"
	"github.com/vnmchuo/gen-broker/internal/payment"
	"github.com/vnmchuo/gen-broker/internal/reconciler"
	"github.com/vnmchuo/gen-broker/pkg/ratelimit"
)

// Deps are the services behind the routes. Limiter may be nil, which
// disables submission rate limiting.
type Deps struct {
	Catalog     *catalog.Catalog
	Ledger      billing.Ledger
	Jobs        jobs.Store
	Broker      *broker.Broker
	Reconciler  *reconciler.Reconciler
	Payments    *payment.Service
	Maintenance *maintenance.Service
	Limiter     *ratelimit.Limiter
	Metrics     *metrics.Metrics

	AdminAuth auth.Middleware
	CronAuth  auth.Middleware

	// PublicBaseURL is where the provider reaches us; the request host is
	// used when empty.
	PublicBaseURL string
	// CallbackToken, when set, is appended to the callback address and
	// required on every callback.
	CallbackToken string

	Logger *zap.Logger
}

type Handler struct {
	Deps
	logger *zap.Logger
	now    func() time.Time
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, logger: d.Logger, now: time.Now}
}

// Routes builds the chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.MethodNotAllowed(methodNotAllowed)
	r.NotFound(notFound)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "gen-broker"})
	})
	r.Handle("/metrics", h.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		for _, path := range []string{"/generate", "/generate-with-model", "/generate-image", "/transform"} {
			r.Post(path, h.HandleGenerate)
		}
		r.Post("/kie-callback", h.HandleCallback)
		r.Get("/check-transformation", h.HandleCheckStatus)
		r.Post("/check-transformation", h.HandleCheckStatus)
		r.Get("/models", h.HandleListModels)

		r.Get("/packs", h.HandleListPacks)
		r.Post("/create-checkout-session", h.HandleCreateCheckout)
		r.Post("/stripe-webhook", h.HandleStripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(h.AdminAuth)
			r.Get("/users/{id}/jobs", h.HandleListJobs)
			r.Route("/admin", func(r chi.Router) {
				r.Post("/credits/add", h.HandleAddCredits)
				r.Post("/credits/reset", h.HandleResetCredits)
				r.Post("/users", h.HandleEnsureUser)
				r.Post("/award-ad-credit", h.HandleAwardAdCredit)
				r.Get("/users/{id}/balance", h.HandleBalance)
			})
		})

		r.Route("/cron", func(r chi.Router) {
			r.Use(h.CronAuth)
			// Schedulers differ in the method they send.
			r.Get("/reset-weekly-quotas", h.HandleResetWeeklyQuotas)
			r.Post("/reset-weekly-quotas", h.HandleResetWeeklyQuotas)
			r.Get("/cleanup-old-jobs", h.HandleCleanupOldJobs)
			r.Post("/cleanup-old-jobs", h.HandleCleanupOldJobs)
		})
	})
	return r
}

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
			)
		})
	}
}
