// Package api exposes the submission HTTP surface. Handlers only accept or
// reject; every downstream outcome reaches the caller through the job's
// asynchronous callback.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"async-image-tools/internal/config"
	"async-image-tools/internal/models"
	"async-image-tools/internal/ratelimit"
	"async-image-tools/internal/telemetry"
	"async-image-tools/internal/worker"
)

// Server wires the HTTP handlers for job submission.
type Server struct {
	cfg     config.Config
	runner  *worker.Runner
	limiter *ratelimit.TokenBucket
	log     zerolog.Logger
}

// New constructs the API server. limiter may be nil (rate limiting disabled).
func New(cfg config.Config, runner *worker.Runner, limiter *ratelimit.TokenBucket, logger zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		runner:  runner,
		limiter: limiter,
		log:     logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Get("/cos/config", s.handleCOSConfig)
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/process-image-async", s.handleSingle(models.KindSingleURL))
	r.Post("/process-image-async-b64", s.handleSingle(models.KindSingleB64))
	r.Post("/batch-process-images", s.handleBatch)
	return r
}

type processImageRequest struct {
	Prompt      string `json:"prompt"`
	Filename    string `json:"filename"`
	ImageBase64 string `json:"image_base64"`
}

type batchProcessRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleSingle(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.checkToken(w, r) {
			return
		}
		if err := s.cfg.RequireOpenAI(); err != nil {
			writeDetail(w, http.StatusInternalServerError, err.Error())
			return
		}
		if kind == models.KindSingleURL {
			if err := s.cfg.RequireStorage(); err != nil {
				writeDetail(w, http.StatusInternalServerError, err.Error())
				return
			}
		}

		var req processImageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeDetail(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			writeDetail(w, http.StatusBadRequest, "prompt is required")
			return
		}
		if req.ImageBase64 == "" {
			writeDetail(w, http.StatusBadRequest, "image_base64 is required")
			return
		}

		callbackURL := r.Header.Get("callbackUrl")
		if callbackURL == "" {
			writeDetail(w, http.StatusBadRequest, "callbackUrl header is required")
			return
		}

		if !s.allow(w, r) {
			return
		}

		job := models.Job{
			ID:          uuid.New().String(),
			Kind:        kind,
			Prompt:      req.Prompt,
			Filename:    req.Filename,
			ImageBase64: req.ImageBase64,
			CallbackURL: callbackURL,
			CreatedAt:   time.Now().UTC(),
		}
		s.log.Info().Str("job_id", job.ID).Str("kind", kind).Str("filename", req.Filename).Msg("job accepted")
		s.runner.Submit(job)

		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "job_id": job.ID})
	}
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if !s.checkToken(w, r) {
		return
	}
	if err := s.cfg.RequireStorage(); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.cfg.RequireOpenAI(); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.cfg.RequireInputBucket(); err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req batchProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeDetail(w, http.StatusBadRequest, "prompt is required")
		return
	}

	callbackURL := r.Header.Get("callbackUrl")
	if callbackURL == "" {
		writeDetail(w, http.StatusBadRequest, "callbackUrl header is required")
		return
	}

	if !s.allow(w, r) {
		return
	}

	job := models.Job{
		ID:          uuid.New().String(),
		Kind:        models.KindBatch,
		Prompt:      req.Prompt,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
	}
	s.log.Info().Str("job_id", job.ID).Str("kind", job.Kind).Msg("batch job accepted")
	s.runner.Submit(job)

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "job_id": job.ID})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                       true,
		"mode":                     s.cfg.Env,
		"callback_rewrite_enabled": s.cfg.EnableCallbackRewrite,
		"max_concurrent_jobs":      s.cfg.MaxConcurrentJobs,
		"callback_retries":         s.cfg.CallbackMaxRetries,
		"fallback_single_enabled":  s.cfg.EnableFallbackSingle,
		"workshop_token_enabled":   s.cfg.WorkshopToken != "",
	})
}

func (s *Server) handleCOSConfig(w http.ResponseWriter, r *http.Request) {
	if !s.checkToken(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint":        s.cfg.COSEndpoint,
		"region":          s.cfg.COSRegion,
		"input_bucket":    s.cfg.COSInputBucket,
		"output_bucket":   s.cfg.COSOutputBucket,
		"input_prefix":    s.cfg.COSInputPrefix,
		"output_prefix":   s.cfg.COSOutputPrefix,
		"presign_expires": int(s.cfg.COSPresignExpires.Seconds()),
	})
}

// checkToken enforces the optional shared workshop token.
func (s *Server) checkToken(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.WorkshopToken == "" {
		return true
	}
	if strings.TrimSpace(r.Header.Get("x-workshop-token")) != s.cfg.WorkshopToken {
		writeDetail(w, http.StatusUnauthorized, "unauthorized (missing/invalid x-workshop-token)")
		return false
	}
	return true
}

// allow applies the per-caller rate limit when a limiter is configured.
func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	allowed, _, err := s.limiter.Allow(r.Context(), "rl:"+clientKey(r))
	if err != nil {
		// Limiter outage must not take submissions down with it.
		s.log.Warn().Err(err).Msg("rate limiter unavailable, admitting request")
		return true
	}
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		writeDetail(w, http.StatusTooManyRequests, "rate limited")
		return false
	}
	return true
}

func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			return strings.TrimSpace(v[:i])
		}
		return strings.TrimSpace(v)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
