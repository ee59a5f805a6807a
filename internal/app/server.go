package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	httpmw "github.com/mihaimyh/jobgate/middleware/http"
	"github.com/mihaimyh/jobgate/pkg/api"
	billingzerolog "github.com/mihaimyh/jobgate/pkg/billing/logger/zerolog"
	"github.com/mihaimyh/jobgate/pkg/identity"
)

const (
	readHeaderTimeout = 10 * time.Second
	pingTimeout       = 2 * time.Second
)

// Router builds the HTTP routes. The webhook, health and metrics endpoints are
// unauthenticated; everything under /v1 except the webhook resolves the caller first.
func (a *App) Router() (http.Handler, error) {
	lookup := a.lookup
	if lookup == nil {
		jwtLookup, err := identity.NewJWTLookup(a.cfg.JWTSecret, a.cfg.JWTIssuer)
		if err != nil {
			return nil, err
		}
		lookup = jwtLookup
	}

	handler, err := api.NewHandler(api.Config{
		Gate:       a.Gate,
		Billing:    a.Provider,
		Moderation: a.Moderation,
		Logger:     billingzerolog.NewLogger(a.log),
	})
	if err != nil {
		return nil, err
	}
	apiMux := http.NewServeMux()
	handler.Routes(apiMux)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(a.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Method(http.MethodPost, "/v1/billing/webhook", a.Provider.WebhookHandler())

	r.Group(func(r chi.Router) {
		r.Use(identity.Authenticate(lookup))

		// pkg/api owns its route table; chi only scopes it behind authentication.
		r.Handle("/v1/billing/*", apiMux)
		r.Handle("/v1/moderation/*", apiMux)

		// Cheap check for clients deciding whether to show paid features.
		r.With(httpmw.RequireEntitlement(httpmw.Config{
			Gate:         a.Gate,
			GetAccountID: identity.AccountID,
		})).Get("/v1/billing/access", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	return r, nil
}

// Serve runs the HTTP server and the deferred worker until ctx is canceled,
// then shuts the server down within the configured timeout.
func (a *App) Serve(ctx context.Context) error {
	router, err := a.Router()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		a.log.Info().Msg("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.Worker.Run(ctx)
	})
	return g.Wait()
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := a.Ping(ctx); err != nil {
		a.log.Warn().Err(err).Msg("health check failed")
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			event := log.Debug()
			if ww.Status() >= http.StatusInternalServerError {
				event = log.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
