// Package api exposes the HTTP interface for the documentation service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/anshm02/docuagent-sub001/internal/budget"
	"github.com/anshm02/docuagent-sub001/internal/dispatcher"
	"github.com/anshm02/docuagent-sub001/internal/docs"
)

// Config controls server behavior.
type Config struct {
	RequestTimeout time.Duration
	MaxScreensCap  int
}

// Defaults applied when a Config field is zero.
const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultMaxScreensCap  = 200
)

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobs       docs.JobStore
	progress   docs.ProgressStore
	budget     *budget.Controller
	dispatcher *dispatcher.Dispatcher
	ids        docs.IDGenerator
	clock      docs.Clock
	validate   *validator.Validate
	logger     *zap.Logger
	cfg        Config
}

// NewServer constructs a Server with middleware and routes. The metrics
// handler is usually promhttp.Handler().
func NewServer(
	jobs docs.JobStore,
	progress docs.ProgressStore,
	budgetCtl *budget.Controller,
	dispatch *dispatcher.Dispatcher,
	ids docs.IDGenerator,
	clock docs.Clock,
	metricsHandler http.Handler,
	logger *zap.Logger,
	cfg Config,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxScreensCap <= 0 {
		cfg.MaxScreensCap = DefaultMaxScreensCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:       jobs,
		progress:   progress,
		budget:     budgetCtl,
		dispatcher: dispatch,
		ids:        ids,
		clock:      clock,
		validate:   validator.New(),
		logger:     logger,
		cfg:        cfg,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.createJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/progress", s.getJobProgress)
				r.Get("/result", s.getJobResult)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, s.logger)
}

type createJobRequest struct {
	UserID             string `json:"user_id" validate:"required"`
	TargetURL          string `json:"target_url" validate:"required,url"`
	LoginURL           string `json:"login_url" validate:"omitempty,url"`
	Username           string `json:"username" validate:"required_with=LoginURL"`
	Password           string `json:"password" validate:"required_with=LoginURL"`
	RepoURL            string `json:"repo_url" validate:"omitempty,url"`
	ProductDescription string `json:"product_description"`
	MaxScreens         int    `json:"max_screens" validate:"omitempty,gte=1"`
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON", s.logger)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), s.logger)
		return
	}
	if req.MaxScreens > s.cfg.MaxScreensCap {
		req.MaxScreens = s.cfg.MaxScreensCap
	}

	// Prepaid gate: no credits, no job.
	check, err := s.budget.CheckCredits(r.Context(), req.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check credits", s.logger)
		return
	}
	if !check.HasCredits {
		writeError(w, http.StatusPaymentRequired, "no prepaid credits remaining", s.logger)
		return
	}

	jobID := s.ids.NewID()
	job := docs.Job{
		ID:     jobID,
		UserID: req.UserID,
		Status: docs.JobStatusQueued,
		Input: docs.JobInput{
			TargetURL:          req.TargetURL,
			LoginURL:           req.LoginURL,
			RepoURL:            req.RepoURL,
			ProductDescription: req.ProductDescription,
			MaxScreens:         req.MaxScreens,
		},
		CreatedAt: s.clock.Now(),
	}
	if req.LoginURL != "" {
		job.Input.Credentials = &docs.Credentials{Username: req.Username, Password: req.Password}
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job", s.logger)
		return
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	item := docs.QueueItem{JobID: jobID, Submitted: s.clock.Now().Unix()}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("failed to enqueue job", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job", s.logger)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(docs.JobStatusQueued),
	}, s.logger)
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job}, s.logger)
}

func (s *Server) getJobProgress(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", s.logger)
			return
		}
		limit = parsed
	}
	msgs, err := s.progress.ListMessages(r.Context(), jobID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch progress", s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs}, s.logger)
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found", s.logger)
		return
	}
	switch job.Status {
	case docs.JobStatusCompleted:
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id":             job.ID,
			"result_url":         job.ResultURL,
			"quality_score":      job.QualityScore,
			"flagged_for_review": job.FlaggedForReview,
			"actual_cents":       job.Budget.ActualCents,
		}, s.logger)
	case docs.JobStatusFailed:
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
			"error":  job.ErrorText,
		}, s.logger)
	default:
		writeError(w, http.StatusConflict, "job is still running", s.logger)
	}
}
