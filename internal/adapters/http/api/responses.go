package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/domain/model"
	"github.com/okian/barometer/internal/domain/reason"
	"github.com/okian/barometer/internal/domain/screening"
)

// ResponseDependencies defines the interface for response intake.
type ResponseDependencies interface {
	// Submit queues a batch for async screening. Backpressure is reported
	// as service.ErrBackpressure.
	Submit(ctx context.Context, b model.Batch) (service.Receipt, error)
	// Ingest screens a batch before returning.
	Ingest(ctx context.Context, b model.Batch) (screening.Result, service.Receipt, error)
}

// ResponseHandler handles response submissions.
type ResponseHandler struct {
	deps ResponseDependencies
}

// NewResponseHandler creates a new response handler.
func NewResponseHandler(deps ResponseDependencies) *ResponseHandler {
	return &ResponseHandler{deps: deps}
}

// submissionRequest is the body of POST /assessments/{id}/responses.
type submissionRequest struct {
	BatchID   string            `json:"batch_id"`
	Responses []responseRequest `json:"responses"`
}

type responseRequest struct {
	RespondentID string   `json:"respondent_id"`
	ItemID       string   `json:"item_id"`
	Value        *float64 `json:"value"`
	Text         string   `json:"text"`
	SubmittedAt  string   `json:"submitted_at"`
	Revision     int      `json:"revision"`
}

func (s submissionRequest) toBatch(assessmentID string) (model.Batch, error) {
	if len(s.Responses) == 0 {
		return model.Batch{}, errors.New("no responses")
	}
	b := model.Batch{ID: s.BatchID, AssessmentID: assessmentID, Responses: make([]model.Response, 0, len(s.Responses))}
	for i, in := range s.Responses {
		switch {
		case strings.TrimSpace(in.RespondentID) == "":
			return model.Batch{}, fmt.Errorf("response %d: missing respondent_id", i)
		case strings.TrimSpace(in.ItemID) == "":
			return model.Batch{}, fmt.Errorf("response %d: missing item_id", i)
		case in.Value == nil && in.Text == "":
			return model.Batch{}, fmt.Errorf("response %d: missing value", i)
		case in.Revision < 0:
			return model.Batch{}, fmt.Errorf("response %d: negative revision", i)
		}
		at, err := parseTime(in.SubmittedAt)
		if err != nil {
			return model.Batch{}, fmt.Errorf("response %d: invalid submitted_at; must be RFC3339", i)
		}
		r := model.Response{
			AssessmentID: assessmentID,
			RespondentID: in.RespondentID,
			ItemID:       in.ItemID,
			Text:         in.Text,
			SubmittedAt:  at,
			Revision:     in.Revision,
		}
		if in.Value != nil {
			r.Value = *in.Value
		}
		b.Responses = append(b.Responses, r)
	}
	return b, nil
}

type ackResponse struct {
	Status    string `json:"status"`
	BatchID   string `json:"batch_id"`
	Responses int    `json:"responses"`
	Duplicate bool   `json:"duplicate"`
}

// screenedResponse reports the outcome of a synchronous submission.
type screenedResponse struct {
	ackResponse
	Accepted   int            `json:"accepted"`
	Suspicious int            `json:"suspicious"`
	Rejections []reason.Issue `json:"rejections"`
	Retracted  []string       `json:"retracted,omitempty"`
}

// HandleSubmit handles POST /assessments/{id}/responses requests. With
// ?wait=true the batch is screened before the response is written.
func (h *ResponseHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_responses"
	var req submissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	b, err := req.toBatch(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		if wait, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, errors.New("invalid wait flag")))
			return
		}
	}

	if wait {
		res, rec, err := h.deps.Ingest(r.Context(), b)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		out := screenedResponse{
			ackResponse: ack(rec, "screened"),
			Accepted:    len(res.Accepted),
			Suspicious:  len(res.Suspicious),
			Rejections:  res.Rejections,
			Retracted:   res.Retracted,
		}
		if out.Rejections == nil {
			out.Rejections = []reason.Issue{}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	rec, err := h.deps.Submit(r.Context(), b)
	if err != nil {
		if errors.Is(err, service.ErrBackpressure) {
			writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, err))
			return
		}
		writeServiceError(w, err)
		return
	}
	if rec.Duplicate {
		writeJSON(w, http.StatusOK, ack(rec, "duplicate"))
		return
	}
	writeJSON(w, http.StatusAccepted, ack(rec, "accepted"))
}

func ack(rec service.Receipt, status string) ackResponse {
	if rec.Duplicate {
		status = "duplicate"
	}
	return ackResponse{Status: status, BatchID: rec.BatchID, Responses: rec.Responses, Duplicate: rec.Duplicate}
}
