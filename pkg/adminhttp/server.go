// Package adminhttp exposes csserver's operational surface — liveness
// and Prometheus scraping — over plain HTTP on a port separate from
// the TLS content protocol. It is deliberately small: one chi router,
// two routes.
package adminhttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rsteinwert/csserver/internal/logger"
)

// NewRouter builds the admin HTTP handler. gatherer is typically a
// *metrics.Registry's Gatherer(); passing prometheus.NewRegistry()
// directly is fine too, it just reports an empty scrape.
func NewRouter(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// requestLogger logs each admin request at debug level; this mux only
// ever serves a monitoring system, so there is no reason to be louder
// than that.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Debug("admin request",
			logger.Path(r.URL.Path),
			logger.DurationMs(float64(time.Since(start).Milliseconds())),
		)
	})
}
