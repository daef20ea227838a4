package api

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"product-image-pipeline/internal/config"
	"product-image-pipeline/internal/domain/model"
	"product-image-pipeline/internal/domain/ports/adapter"
	"product-image-pipeline/internal/infra/logging"
	"product-image-pipeline/internal/infra/metrics"
	"product-image-pipeline/internal/infra/redis"
	"product-image-pipeline/internal/usecase"
)

// Limiter is satisfied by redis.RateLimiter.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type Deps struct {
	Uploads  usecase.UploadImageUseCase
	Jobs     usecase.JobUseCase
	Pipeline usecase.ProcessPipelineUseCase
	Storage  adapter.ObjectStorage
	Hub      *Hub
	// Limiter is optional; without it uploads are not rate limited.
	Limiter Limiter
	// Ready reports dependency health for /health; nil means always ready.
	Ready func(ctx context.Context) error
	// FilesRoot serves local storage under /files when set.
	FilesRoot string
	MaxUpload int64
}

// Server exposes the pipeline over HTTP.
type Server struct {
	deps Deps
	cfg  config.HTTPConfig
	log  *zerolog.Logger
}

func NewServer(deps Deps, cfg config.HTTPConfig, logger *zerolog.Logger) *Server {
	if deps.MaxUpload <= 0 || deps.MaxUpload > model.MaxSourceBytes {
		deps.MaxUpload = model.MaxSourceBytes
	}
	l := logger.With().Str("component", "http").Logger()
	return &Server{deps: deps, cfg: cfg, log: &l}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.health)
	r.Handle("/metrics", metrics.Handler())
	if s.deps.FilesRoot != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(s.deps.FilesRoot))))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(Timeout(s.cfg.UploadTimeout), s.rateLimit).Post("/jobs", s.createJob)
		r.With(Timeout(s.cfg.ProcessTimeout)).Post("/jobs/{id}/process", s.processJob)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(s.cfg.RequestTimeout))
			r.Get("/jobs", s.listJobs)
			r.Get("/jobs/{id}", s.getJob)
			r.Post("/jobs/{id}/enqueue", s.enqueueJob)
			r.Post("/jobs/{id}/cancel", s.cancelJob)
			r.Post("/jobs/{id}/restart", s.restartJob)
			r.Delete("/jobs/{id}", s.deleteJob)
			r.Get("/stats", s.stats)
		})

		if s.deps.Hub != nil {
			r.Get("/jobs/{id}/events", s.jobEvents)
			r.Get("/events", s.allEvents)
		}
	})
	return r
}

// Start serves until ctx is cancelled, then drains for up to 10 seconds.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	if s.deps.Limiter == nil || s.cfg.UploadsPerMinute <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.deps.Limiter.Allow(r.Context(), redis.UploadKey(clientIP(r)), s.cfg.UploadsPerMinute, time.Minute)
		if err != nil {
			// fail open
			l := logging.With(r.Context(), s.log)
			l.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Code: "RATE_LIMITED", Error: "too many uploads", Recoverable: true})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	l := logging.With(r.Context(), s.log)
	if status >= http.StatusInternalServerError {
		l.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		l.Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, errorFor(err))
}
