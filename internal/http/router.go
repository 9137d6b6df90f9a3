package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"gitea.jw6.us/james/reservo/internal/auth"
	"gitea.jw6.us/james/reservo/internal/config"
	httperrors "gitea.jw6.us/james/reservo/internal/http/errors"
	"gitea.jw6.us/james/reservo/internal/http/ratelimit"
	"gitea.jw6.us/james/reservo/internal/logging"
	"gitea.jw6.us/james/reservo/internal/metrics"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	Store        HealthChecker
	Reservations ReservationService
	Credentials  CredentialStorer
	OAuth        *oauth2.Config
	Logger       *zap.Logger
}

// NewRouter wires all HTTP routes for the JSON API.
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// OAuth callback: 5 requests per second, burst of 10 per client address
	callbackRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// API: 10 requests per second, burst of 30 per user
	apiRateLimiter := ratelimit.NewUserRateLimiter(rate.Limit(10), 30, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.Write(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.Write(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := deps.Store.HealthCheck(ctx); err != nil {
			httperrors.LogError(r, "readiness check failed", err)
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	reservations := NewReservationHandler(deps.Reservations)
	calendarHandler := NewCalendarHandler(deps.OAuth, deps.Credentials, cfg.Session.Secret)

	r.With(callbackRateLimiter.Middleware()).Get("/api/calendar/callback", calendarHandler.Callback)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireBearer(cfg.Session.Secret))
		r.Use(apiRateLimiter.Middleware())

		r.Get("/api/calendar/connect", calendarHandler.Connect)

		r.Route("/api/reservations", func(r chi.Router) {
			r.Get("/", reservations.List)
			r.Post("/", reservations.Create)
			r.Get("/{id}", reservations.Get)
			r.Patch("/{id}", reservations.Update)
			r.Put("/{id}", reservations.Update)
			r.Delete("/{id}", reservations.Delete)
		})
	})

	return r
}

// requestLogger attaches a request-scoped logger to the context and logs one
// line per completed request.
func requestLogger(base *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.With(
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
			)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(logging.ContextWithLogger(r.Context(), logger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request completed",
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}
