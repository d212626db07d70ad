// Package server exposes the anomaly engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/hed1ad/tradeguard/internal/metrics"
	"github.com/hed1ad/tradeguard/pkg/engine"
	tgio "github.com/hed1ad/tradeguard/pkg/io"
	"github.com/hed1ad/tradeguard/pkg/market"
)

// Defaults for the sample-data fallback and response sizes.
const (
	DefaultSampleDays   = 90
	DefaultSampleSeed   = 42
	DefaultTopN         = 5
	DefaultMaxBodyBytes = 4 << 20
)

// Server serves the detection API.
type Server struct {
	manager *engine.Manager
	source  tgio.Source
	sink    tgio.Sink
	metrics *metrics.Metrics
	logger  zerolog.Logger
	limiter *rate.Limiter

	sampleDays   int
	sampleSeed   int64
	maxBodyBytes int64
	now          func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithSource sets where records are fetched from when a request carries none.
func WithSource(src tgio.Source) Option {
	return func(s *Server) {
		s.source = src
	}
}

// WithSink sets where results are persisted on request.
func WithSink(sink tgio.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithLogger sets the request logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l.With().Str("component", "http").Logger()
	}
}

// WithMetrics enables request metrics and the /metrics endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithRateLimit limits the API to rps requests per second with the given
// burst. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSampleData sets the size and seed of the generated batch used when a
// request carries no records and no source is configured.
func WithSampleData(days int, seed int64) Option {
	return func(s *Server) {
		s.sampleDays = days
		s.sampleSeed = seed
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBodyBytes = n
	}
}

// New creates a server around manager.
func New(manager *engine.Manager, opts ...Option) *Server {
	s := &Server{
		manager:      manager,
		logger:       zerolog.Nop(),
		sampleDays:   DefaultSampleDays,
		sampleSeed:   DefaultSampleSeed,
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/api/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/anomalies/detect", s.handleDetect)
		r.Post("/model/retrain", s.handleRetrain)
		r.Get("/model", s.handleModel)
		r.Get("/risk-level", s.handleRiskLevel)
	})

	return r
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	if srv.Handler == nil {
		srv.Handler = s.Routes()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// records picks the batch for a request: explicit records first, then the
// configured source, then generated sample data.
func (s *Server) records(ctx context.Context, explicit []market.FeatureRecord, filter market.Filter) ([]market.FeatureRecord, string, error) {
	if explicit != nil {
		return explicit, "request", nil
	}
	if s.source != nil {
		recs, err := s.source.FetchFeatureRecords(ctx, filter)
		if err != nil {
			return nil, "", err
		}
		return recs, "source", nil
	}
	recs := market.GenerateSample(s.sampleSeed, s.sampleDays, nil, s.now())
	return filter.Apply(recs), "sample", nil
}
