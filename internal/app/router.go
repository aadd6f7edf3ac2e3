package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/pustakalab/pustaka/internal/auth"
	"github.com/pustakalab/pustaka/internal/authz"
	"github.com/pustakalab/pustaka/internal/catalog"
	"github.com/pustakalab/pustaka/internal/loan"
	"github.com/pustakalab/pustaka/internal/pending"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Gate           *authz.Gate
	AuthHandler    *auth.Handler
	CatalogHandler *catalog.Handler
	LoanHandler    *loan.Handler
	PendingHandler *pending.Handler
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(params.Config) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)
	r.Use(params.Gate.WithIdentity)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", func(r chi.Router) {
		limit, window := 10, time.Minute
		if params.Config != nil {
			if params.Config.LoginRateLimit > 0 {
				limit = params.Config.LoginRateLimit
			}
			if params.Config.LoginRateWindow > 0 {
				window = params.Config.LoginRateWindow
			}
		}
		r.Use(httprate.LimitByIP(limit, window))
		params.AuthHandler.MountRoutes(r)
	})

	r.Route("/api", func(r chi.Router) {
		params.CatalogHandler.MountRoutes(r)
		params.LoanHandler.MountRoutes(r)
		params.PendingHandler.MountRoutes(r)
	})

	return r
}
