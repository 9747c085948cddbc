package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/domain/pdca"
)

// ActionDependencies defines the interface for the improvement loop.
type ActionDependencies interface {
	Plan(ctx context.Context, assessmentID string) ([]pdca.Action, error)
	Remeasure(ctx context.Context, assessmentID string) ([]pdca.Action, error)
	Actions(ctx context.Context, org string) (service.ActionReport, error)
	Action(ctx context.Context, id string) (pdca.Action, error)
	Advance(ctx context.Context, id string, ev pdca.Event) (pdca.Action, error)
}

// ActionHandler handles improvement action requests.
type ActionHandler struct {
	deps ActionDependencies
}

// NewActionHandler creates a new action handler.
func NewActionHandler(deps ActionDependencies) *ActionHandler {
	return &ActionHandler{deps: deps}
}

// eventRequest is the body of POST /actions/{id}/events. Re-measurement is
// driven by POST /assessments/{id}/remeasure, which supplies the scores.
type eventRequest struct {
	Type    string  `json:"type"`
	Percent float64 `json:"percent"`
	At      string  `json:"at"`
}

func (e eventRequest) toEvent() (pdca.Event, error) {
	at, err := parseTime(e.At)
	if err != nil {
		return nil, errors.New("invalid at; must be RFC3339")
	}
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case "progress":
		return pdca.Progress{Percent: e.Percent, At: at}, nil
	case "conclude":
		return pdca.Conclude{At: at}, nil
	case "":
		return nil, errors.New("missing type")
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// HandlePlan handles POST /assessments/{id}/plan requests.
func (h *ActionHandler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	actions, err := h.deps.Plan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, actions)
}

// HandleRemeasure handles POST /assessments/{id}/remeasure requests.
func (h *ActionHandler) HandleRemeasure(w http.ResponseWriter, r *http.Request) {
	moved, err := h.deps.Remeasure(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, moved)
}

// HandleList handles GET /actions?organization= requests.
func (h *ActionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_actions"
	org := strings.TrimSpace(r.URL.Query().Get("organization"))
	if org == "" {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("missing organization")))
		return
	}
	report, err := h.deps.Actions(r.Context(), org)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleGet handles GET /actions/{id} requests.
func (h *ActionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	a, err := h.deps.Action(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// HandleEvent handles POST /actions/{id}/events requests.
func (h *ActionHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.action_event"
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	a, err := h.deps.Advance(r.Context(), r.PathValue("id"), ev)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
