// Package api serves the read API over the project stores and the rollup.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"

	"github.com/okian/mindshare/internal/adapters/repository"
	service "github.com/okian/mindshare/internal/app"
	model "github.com/okian/mindshare/internal/domain/model"
	"github.com/okian/mindshare/pkg/logger"
)

// Querier is the read surface the handlers depend on.
type Querier interface {
	Projects(ctx context.Context) ([]service.ProjectSummary, error)
	Timeframes(ctx context.Context, project string) ([]string, error)
	AvailableTimestamps(ctx context.Context, project, timeframe string) ([]string, error)
	SliceAt(ctx context.Context, project, timeframe, timestamp string) ([]model.Row, error)
	TopN(ctx context.Context, project, timeframe string, metric model.Metric, n int) ([]model.Row, error)
	LatestIdentities(ctx context.Context, project, timeframe string) ([]string, error)
	History(ctx context.Context, project, timeframe, identity string, points int) ([]model.Row, error)
	Diff(ctx context.Context, project, timeframe, t1, t2 string, metric model.Metric) (service.DiffResult, error)
	Trend(ctx context.Context, project, timeframe string, metric model.Metric) ([]model.TrendPoint, error)
	Compare(ctx context.Context, project, timeframe string, identities []string) ([]service.IdentitySeries, error)
	Search(ctx context.Context, text string, limit int) ([]model.GlobalIdentity, error)
	Identity(ctx context.Context, id string) (*repository.IdentityView, error)
}

var _ Querier = (*service.Query)(nil)

// Mounter attaches extra routes, such as the API docs.
type Mounter func(r chi.Router)

// Server wires HTTP routes for the read API.
type Server struct {
	query       Querier
	ready       func() bool
	maxLimit    int
	rateLimit   int
	corsOrigins []string
	mounts      []Mounter
	log         logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMaxLimit caps the limit query parameter.
func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithRateLimit sets requests per minute per client IP; 0 disables it.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.rateLimit = perMinute }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithReady sets the readiness probe reported by /healthz.
func WithReady(fn func() bool) Option {
	return func(s *Server) {
		if fn != nil {
			s.ready = fn
		}
	}
}

// WithMount attaches extra routes at the root.
func WithMount(m Mounter) Option {
	return func(s *Server) { s.mounts = append(s.mounts, m) }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates an API server over q.
func NewServer(q Querier, opts ...Option) *Server {
	s := &Server{
		query:       q,
		ready:       func() bool { return true },
		maxLimit:    500,
		corsOrigins: []string{"*"},
		log:         logger.Get(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", headerRequestID},
		ExposedHeaders: []string{headerRequestID},
		MaxAge:         300,
	}))
	r.Use(Metrics)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metricsHandler())
	for _, m := range s.mounts {
		m(r)
	}

	r.Route("/api", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.Limit(s.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, errorResponse{
						Code:    codeRateLimited,
						Message: http.StatusText(http.StatusTooManyRequests),
					})
				}),
			))
		}
		r.Get("/projects", s.handleProjects)
		r.Route("/projects/{project}", func(r chi.Router) {
			r.Get("/timeframes", s.handleTimeframes)
			r.Route("/{timeframe}", func(r chi.Router) {
				r.Get("/timestamps", s.handleTimestamps)
				r.Get("/slice", s.handleSlice)
				r.Get("/top", s.handleTop)
				r.Get("/identities", s.handleIdentities)
				r.Get("/history/{identity}", s.handleHistory)
				r.Get("/diff", s.handleDiff)
				r.Get("/trend", s.handleTrend)
				r.Get("/compare", s.handleCompare)
			})
		})
		r.Get("/user-search", s.handleSearch)
		r.Get("/user-data/{identity}", s.handleIdentity)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: codeNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Code:    "method_not_allowed",
			Message: http.StatusText(http.StatusMethodNotAllowed),
		})
	})
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err and writes it. Unavailable data is logged since
// the client only sees a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusServiceUnavailable {
		s.log.Error(r.Context(), "query failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", RequestIDFrom(r.Context())),
			logger.Error(err))
		msg = "data unavailable"
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
