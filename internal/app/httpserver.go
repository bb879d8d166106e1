package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Spok95/ct-filing/internal/metrics"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Engine Engine
	DB     Pinger
	Auth   *Auth
	Authz  Authorizer
	Log    *zap.Logger
}

// NewRouter собирает REST API поверх движка.
func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Authz == nil {
		d.Authz = ClaimsAuthorizer{}
	}
	h := &handlers{svc: d.Engine, log: d.Log}
	perm := func(action string) func(http.Handler) http.Handler { return requirePermission(d.Authz, action) }

	r := chi.NewRouter()
	r.Use(requestID, requestLogger(d.Log), recoverer(d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 800*time.Millisecond)
		defer cancel()
		t0 := time.Now()
		if err := d.DB.Ping(ctx); err != nil {
			http.Error(w, "db not ok: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		metrics.ObserveDBPing(time.Since(t0))
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(d.Auth.Middleware)

		r.Route("/ct-types", func(r chi.Router) {
			r.Get("/", h.listCtTypes)
			r.Get("/resolve/{slug}", h.resolveCtType)
			r.With(perm(PermTypesWrite)).Patch("/{id}", h.renameCtType)
		})

		r.Route("/customers/{customerID}/ct-types/{slug}/periods", func(r chi.Router) {
			r.Get("/", h.listPeriods)
			r.With(perm(PermPeriodsWrite)).Post("/", h.createPeriod)
			r.Get("/next", h.proposeNextPeriod)
			r.Get("/export", h.exportPeriodRegister)
		})

		r.Route("/periods/{periodID}", func(r chi.Router) {
			r.Get("/", h.getPeriod)
			r.With(perm(PermPeriodsWrite)).Patch("/", h.updatePeriod)
			r.With(perm(PermPeriodsDelete)).Delete("/", h.deletePeriod)

			r.Route("/ct-types/{slug}", func(r chi.Router) {
				r.Get("/conversions", h.listConversions)
				r.With(perm(PermConversionsWrite)).Post("/conversions", h.createConversion)
				r.Get("/steps", h.listSteps)
				r.With(perm(PermStepsWrite)).Put("/steps/{step}", h.putStep)
				r.With(perm(PermExport)).Get("/export", h.exportWorkflow)
			})
		})

		r.Route("/conversions/{conversionID}", func(r chi.Router) {
			r.With(perm(PermConversionsWrite)).Patch("/", h.updateConversion)
			r.With(perm(PermConversionsDelete)).Delete("/", h.deleteConversion)
		})
	})
	return r
}

type HTTPServer struct {
	srv *http.Server
}

func StartHTTP(ctx context.Context, addr string, handler http.Handler, log *zap.Logger) *HTTPServer {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// закрываем аккуратно при Shutdown
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	return &HTTPServer{srv: srv}
}
