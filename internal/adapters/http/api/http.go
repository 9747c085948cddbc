// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/barometer/internal/adapters/ledger"
	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/domain/pdca"
	"github.com/okian/barometer/internal/domain/reason"
)

// maxBodyBytes bounds request bodies; a full batch of answers fits easily.
const maxBodyBytes = 8 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AssessmentDependencies
	ResponseDependencies
	ReportDependencies
	ActionDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	assessmentHandler *AssessmentHandler
	responseHandler   *ResponseHandler
	reportHandler     *ReportHandler
	actionHandler     *ActionHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies) *Server {
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		assessmentHandler: NewAssessmentHandler(deps),
		responseHandler:   NewResponseHandler(deps),
		reportHandler:     NewReportHandler(deps),
		actionHandler:     NewActionHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /assessments", MetricsMiddleware(s.assessmentHandler.HandleCreate, "assessments"))
	mux.HandleFunc("GET /assessments/{id}", MetricsMiddleware(s.assessmentHandler.HandleGet, "assessment"))
	mux.HandleFunc("POST /assessments/{id}/respondents", MetricsMiddleware(s.assessmentHandler.HandleRespondents, "respondents"))
	mux.HandleFunc("POST /assessments/{id}/responses", MetricsMiddleware(s.responseHandler.HandleSubmit, "responses"))

	mux.HandleFunc("GET /assessments/{id}/validation", MetricsMiddleware(s.reportHandler.HandleValidation, "validation"))
	mux.HandleFunc("GET /assessments/{id}/scores", MetricsMiddleware(s.reportHandler.HandleScores, "scores"))
	mux.HandleFunc("GET /assessments/{id}/segments", MetricsMiddleware(s.reportHandler.HandleSegments, "segments"))
	mux.HandleFunc("GET /assessments/{id}/benchmark", MetricsMiddleware(s.reportHandler.HandleBenchmark, "benchmark"))
	mux.HandleFunc("GET /assessments/{id}/clusters", MetricsMiddleware(s.reportHandler.HandleClusters, "clusters"))
	mux.HandleFunc("GET /organizations/{id}/trends", MetricsMiddleware(s.reportHandler.HandleTrends, "trends"))
	mux.HandleFunc("GET /assessments/{id}/live", MetricsMiddleware(s.reportHandler.HandleLive, "live"))
	mux.HandleFunc("GET /assessments/{id}/rejections", MetricsMiddleware(s.reportHandler.HandleRejections, "rejections"))

	mux.HandleFunc("POST /assessments/{id}/plan", MetricsMiddleware(s.actionHandler.HandlePlan, "plan"))
	mux.HandleFunc("POST /assessments/{id}/remeasure", MetricsMiddleware(s.actionHandler.HandleRemeasure, "remeasure"))
	mux.HandleFunc("GET /actions", MetricsMiddleware(s.actionHandler.HandleList, "actions"))
	mux.HandleFunc("GET /actions/{id}", MetricsMiddleware(s.actionHandler.HandleGet, "action"))
	mux.HandleFunc("POST /actions/{id}/events", MetricsMiddleware(s.actionHandler.HandleEvent, "action_events"))
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

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates service and engine errors into HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, pdca.ErrUnknownAction):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, service.ErrBackpressure):
		writeError(w, http.StatusTooManyRequests, "backpressure", err)
	case errors.Is(err, service.ErrBatchTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large", err)
	case errors.Is(err, service.ErrInvalidBatch),
		errors.Is(err, service.ErrInvalidAssessment),
		errors.Is(err, service.ErrInvalidRespondent):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, reason.ErrInvalidTransition):
		writeError(w, http.StatusConflict, string(reason.InvalidTransition), err)
	case errors.Is(err, ledger.ErrExists),
		errors.Is(err, ledger.ErrSlotTaken),
		errors.Is(err, ledger.ErrBankConflict),
		errors.Is(err, pdca.ErrDuplicateAction):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decodeJSON reads one JSON document from the request body. Unknown fields
// are rejected so typos in field names do not silently drop answers.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after the JSON body")
	}
	return nil
}
