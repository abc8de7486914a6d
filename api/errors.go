package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/moogar0880/problems"

	"github.com/songzhibin97/workflow-fsm/workflow"
)

const problemContentType = "application/problem+json"

func writeProblem(w http.ResponseWriter, status int, problem *problems.DefaultProblem) {
	w.Header().Set("Content-Type", problemContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

func badRequest(w http.ResponseWriter, r *http.Request, detail string) {
	problem := problems.NewStatusProblem(http.StatusBadRequest).
		WithInstance(r.URL.Path).
		WithType("validation_error").
		WithDetail(detail)
	writeProblem(w, http.StatusBadRequest, problem)
}

// handleEngineError maps the engine's error classes onto problem responses.
func handleEngineError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		rejected *workflow.RejectedError
		notFound *workflow.NotFoundError
	)
	switch {
	case errors.As(err, &rejected):
		problem := problems.NewStatusProblem(http.StatusBadRequest).
			WithInstance(r.URL.Path).
			WithType(string(rejected.Code)).
			WithDetail(rejected.Detail)
		writeProblem(w, http.StatusBadRequest, problem)

	case errors.As(err, &notFound):
		problem := problems.NewStatusProblem(http.StatusNotFound).
			WithInstance(r.URL.Path).
			WithType(notFound.Kind + "_not_found").
			WithDetail(notFound.Error())
		writeProblem(w, http.StatusNotFound, problem)

	case errors.Is(err, workflow.ErrConcurrentUpdate):
		problem := problems.NewStatusProblem(http.StatusConflict).
			WithInstance(r.URL.Path).
			WithType("conflict").
			WithDetail(err.Error())
		writeProblem(w, http.StatusConflict, problem)

	case workflow.IsIntegrity(err):
		logger.Error("integrity violation", "path", r.URL.Path, "err", err)
		problem := problems.NewStatusProblem(http.StatusInternalServerError).
			WithInstance(r.URL.Path).
			WithType("integrity_error").
			WithError(err)
		writeProblem(w, http.StatusInternalServerError, problem)

	default:
		logger.Error("request failed", "path", r.URL.Path, "err", err)
		problem := problems.NewStatusProblem(http.StatusInternalServerError).
			WithInstance(r.URL.Path).
			WithType("internal_error").
			WithDetail("internal server error")
		writeProblem(w, http.StatusInternalServerError, problem)
	}
}
