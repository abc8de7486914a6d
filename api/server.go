// Package api serves the workflow engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/songzhibin97/workflow-fsm/logging"
	"github.com/songzhibin97/workflow-fsm/types"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Engine is the operation set the HTTP layer needs.
type Engine interface {
	CreateDefinition(ctx context.Context, def types.WorkflowDefinition) (types.WorkflowDefinition, error)
	GetDefinition(ctx context.Context, id string) (types.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context) ([]types.WorkflowDefinition, error)
	StartInstance(ctx context.Context, definitionID string) (types.WorkflowInstance, error)
	GetInstance(ctx context.Context, id string) (types.WorkflowInstance, error)
	ListInstances(ctx context.Context, filter string) ([]types.WorkflowInstance, error)
	ExecuteAction(ctx context.Context, instanceID, actionID string) (types.WorkflowInstance, error)
	AvailableActions(ctx context.Context, instanceID string) ([]types.Action, error)
}

// Server holds the handlers' dependencies.
type Server struct {
	engine   Engine
	logger   *slog.Logger
	validate *validator.Validate
	metrics  http.Handler
}

// Option configures the handler.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// NewHandler creates the HTTP handler for engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		engine:   engine,
		logger:   logging.NewNop(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/workflow-definitions", func(r chi.Router) {
			r.Post("/", s.createDefinition)
			r.Get("/", s.listDefinitions)
			r.Get("/{id}", s.getDefinition)
		})
		r.Post("/workflows/{definitionId}/instances", s.startInstance)
		r.Route("/workflow-instances", func(r chi.Router) {
			r.Get("/", s.listInstances)
			r.Get("/{id}", s.getInstance)
			r.Get("/{id}/actions", s.availableActions)
			r.Post("/{id}/actions", s.executeAction)
		})
	})
	return r
}

func (s *Server) createDefinition(w http.ResponseWriter, r *http.Request) {
	var req CreateDefinitionRequest
	if !s.decode(w, r, &req) {
		return
	}

	def, err := s.engine.CreateDefinition(r.Context(), req.toDefinition())
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Location", "/api/workflow-definitions/"+def.ID)
	writeJSON(w, http.StatusCreated, def)
}

func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.engine.ListDefinitions(r.Context())
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.GetDefinition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.StartInstance(r.Context(), chi.URLParam(r, "definitionId"))
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Location", "/api/workflow-instances/"+inst.ID)
	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	insts, err := s.engine.ListInstances(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, insts)
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.engine.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) availableActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.engine.AvailableActions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, actions)
}

func (s *Server) executeAction(w http.ResponseWriter, r *http.Request) {
	var req ExecuteActionRequest
	if !s.decode(w, r, &req) {
		return
	}

	inst, err := s.engine.ExecuteAction(r.Context(), chi.URLParam(r, "id"), req.ActionID)
	if err != nil {
		handleEngineError(w, r, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// decode reads a JSON body into dst and validates it, writing a 400 problem
// on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			badRequest(w, r, "request body is empty")
		} else {
			badRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		}
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			badRequest(w, r, fmt.Sprintf("field %s failed %q validation", fe.Namespace(), fe.Tag()))
			return false
		}
		badRequest(w, r, err.Error())
		return false
	}
	return true
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
