package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/okian/barometer/internal/domain/model"
)

// AssessmentDependencies defines the interface for assessment registration.
type AssessmentDependencies interface {
	RegisterAssessment(ctx context.Context, a model.Assessment) (model.Assessment, error)
	Assessment(ctx context.Context, id string) (model.Assessment, error)
	RegisterRespondents(ctx context.Context, assessmentID string, rs []model.Respondent) error
}

// AssessmentHandler handles assessment and respondent registration.
type AssessmentHandler struct {
	deps AssessmentDependencies
}

// NewAssessmentHandler creates a new assessment handler.
func NewAssessmentHandler(deps AssessmentDependencies) *AssessmentHandler {
	return &AssessmentHandler{deps: deps}
}

// assessmentRequest is the body of POST /assessments.
type assessmentRequest struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Framework      string `json:"framework"`
	Sector         string `json:"sector"`
	WindowStart    string `json:"window_start"`
	WindowEnd      string `json:"window_end"`
	BankVersion    string `json:"bank_version"`
}

func (a assessmentRequest) toModel() (model.Assessment, error) {
	switch {
	case strings.TrimSpace(a.OrganizationID) == "":
		return model.Assessment{}, errors.New("missing organization_id")
	case strings.TrimSpace(a.Framework) == "":
		return model.Assessment{}, errors.New("missing framework")
	case strings.TrimSpace(a.BankVersion) == "":
		return model.Assessment{}, errors.New("missing bank_version")
	}
	start, err := parseTime(a.WindowStart)
	if err != nil {
		return model.Assessment{}, errors.New("invalid window_start; must be RFC3339")
	}
	end, err := parseTime(a.WindowEnd)
	if err != nil {
		return model.Assessment{}, errors.New("invalid window_end; must be RFC3339")
	}
	return model.Assessment{
		ID:             a.ID,
		OrganizationID: a.OrganizationID,
		Framework:      model.Framework(a.Framework),
		Sector:         a.Sector,
		WindowStart:    start,
		WindowEnd:      end,
		BankVersion:    a.BankVersion,
	}, nil
}

// parseTime accepts an empty string as the zero time.
func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// HandleCreate handles POST /assessments requests.
func (h *AssessmentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_assessment"
	var req assessmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	a, err := req.toModel()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	created, err := h.deps.RegisterAssessment(r.Context(), a)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleGet handles GET /assessments/{id} requests.
func (h *AssessmentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Assessment(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// respondentsRequest is the body of POST /assessments/{id}/respondents.
type respondentsRequest struct {
	Respondents []respondentRequest `json:"respondents"`
}

type respondentRequest struct {
	ID           string            `json:"id"`
	Demographics map[string]string `json:"demographics"`
	StartedAt    string            `json:"started_at"`
}

// HandleRespondents handles POST /assessments/{id}/respondents requests.
func (h *AssessmentHandler) HandleRespondents(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_respondents"
	var req respondentsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	if len(req.Respondents) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("no respondents")))
		return
	}
	rs := make([]model.Respondent, 0, len(req.Respondents))
	for _, in := range req.Respondents {
		started, err := parseTime(in.StartedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request",
				wrapKind(op, ErrBadRequest, errors.New("invalid started_at; must be RFC3339")))
			return
		}
		rs = append(rs, model.Respondent{ID: in.ID, Demographics: in.Demographics, StartedAt: started})
	}
	if err := h.deps.RegisterRespondents(r.Context(), r.PathValue("id"), rs); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"registered": len(rs)})
}
