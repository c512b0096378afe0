// Package api is the HTTP surface of the relay.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zhengshuai-xiao/RelayS/internal"
	"github.com/zhengshuai-xiao/RelayS/pkg/bundle"
	"github.com/zhengshuai-xiao/RelayS/pkg/calibration"
	"github.com/zhengshuai-xiao/RelayS/pkg/egress"
	"github.com/zhengshuai-xiao/RelayS/pkg/ingest"
	"github.com/zhengshuai-xiao/RelayS/pkg/metrics"
	"github.com/zhengshuai-xiao/RelayS/pkg/registry"
)

var logger = internal.GetLogger("api")

// Options wires the components behind the routes.
type Options struct {
	Registry    *registry.Registry
	Ingestor    *ingest.Ingestor
	Streamer    *egress.Streamer
	Bundler     *bundle.Bundler
	Calibration *calibration.Store
	Auth        SiteAuthenticator
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	// Ping reports whether the repository is reachable; nil means always healthy.
	Ping func(ctx context.Context) error
}

type Server struct {
	registry    *registry.Registry
	ingestor    *ingest.Ingestor
	streamer    *egress.Streamer
	bundler     *bundle.Bundler
	calibration *calibration.Store
	auth        SiteAuthenticator
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	ping        func(ctx context.Context) error
}

func New(opts Options) *Server {
	s := &Server{
		registry:    opts.Registry,
		ingestor:    opts.Ingestor,
		streamer:    opts.Streamer,
		bundler:     opts.Bundler,
		calibration: opts.Calibration,
		auth:        opts.Auth,
		metrics:     opts.Metrics,
		gatherer:    opts.Gatherer,
		ping:        opts.Ping,
	}
	if s.auth == nil {
		s.auth = HeaderAuthenticator{Header: internal.DefaultConfig().SiteHeader}
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	return s
}

// Handler returns the router serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.instrument)
	r.Use(middleware.Recoverer)

	r.With(s.requireSite).Post("/upload/metadata", s.registerUpload)
	r.With(s.requireSite).Put("/upload/data/{checksum}", s.putData)
	r.Get("/download/object/{id}/{key}", s.downloadObject)
	r.Get("/download/bundle/{id}", s.downloadBundle)

	r.Route("/api", func(r chi.Router) {
		r.Get("/uploads", s.listUploads)
		r.Post("/uploads/{id}/status", s.setUploadStatus)
		r.Post("/bundles", s.createBundle)
		r.Get("/bundles/{id}", s.getBundle)
		r.Get("/objects/{id}", s.getObject)
		r.Get("/access", s.recentAccess)
		r.Get("/calibration/{instrument}", s.getCalibration)
		r.With(s.requireSite).Put("/calibration/{instrument}", s.putCalibration)
	})

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// instrument records every request by route pattern so IDs never become
// label values.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.metrics.ObserveHTTP(route, status, time.Since(start))
			logger.Tracef("%s %s -> %d (%d bytes, %s)", r.Method, r.URL.Path, status, ww.BytesWritten(), time.Since(start))
		}()
		next.ServeHTTP(ww, r)
	})
}

type siteKey struct{}

func (s *Server) requireSite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site, err := s.auth.Site(r)
		if err != nil {
			writeError(w, r, err, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), siteKey{}, site)))
	})
}

func siteFrom(ctx context.Context) string {
	site, _ := ctx.Value(siteKey{}).(string)
	return site
}

// headersSent reports whether w already committed a status line.
func headersSent(w http.ResponseWriter) bool {
	ww, ok := w.(middleware.WrapResponseWriter)
	return ok && ww.Status() != 0
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), internal.GlobalMetaOperationTimeout)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			logger.Warnf("health check: %v", err)
			http.Error(w, "repository unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}
