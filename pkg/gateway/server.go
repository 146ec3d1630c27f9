// Package gateway exposes the transfer orchestrator over HTTP.
package gateway

import (
	"net/http"
	"time"

	"ChunkVault/pkg/metrics"
	"ChunkVault/pkg/transfer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultMaxBody = 1 << 30

type Options struct {
	// MaxBodySize caps upload bodies; larger requests get 413.
	MaxBodySize int64
	Metrics     *metrics.Transfer
	Logger      zerolog.Logger
}

type Server struct {
	h       http.Handler
	orch    *transfer.Orchestrator
	maxBody int64
}

func New(orch *transfer.Orchestrator, opts Options) *Server {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBody
	}
	s := &Server{orch: orch, maxBody: opts.MaxBodySize}

	r := chi.NewRouter()
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/objects", s.listObjects)
		r.Put("/objects/{key}", s.putObject)
		r.Get("/objects/{key}", s.getObject)
		r.Delete("/objects/{key}", s.deleteObject)
		r.Post("/reconcile", s.reconcile)
	})

	s.h = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.h
}

// requestLogger tags each request with an id, puts a request-scoped logger
// in the context and logs one line when the response is written.
func requestLogger(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-Id")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			l := base.With().Str("request_id", id).Logger()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r.WithContext(l.WithContext(r.Context())))

			l.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).Dur("elapsed", time.Since(start)).Msg("request")
		})
	}
}
