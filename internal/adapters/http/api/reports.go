package api

import (
	"context"
	"net/http"

	"github.com/okian/barometer/internal/adapters/ledger"
	service "github.com/okian/barometer/internal/app"
	"github.com/okian/barometer/internal/domain/benchmark"
	"github.com/okian/barometer/internal/domain/cluster"
	"github.com/okian/barometer/internal/domain/psychometrics"
	"github.com/okian/barometer/internal/domain/scoring"
	"github.com/okian/barometer/internal/domain/segment"
	"github.com/okian/barometer/internal/domain/trend"
)

// ReportDependencies defines the interface for assessment read-outs.
type ReportDependencies interface {
	Validation(ctx context.Context, assessmentID string) (psychometrics.Report, error)
	Scores(ctx context.Context, assessmentID string) (scoring.Result, error)
	Segments(ctx context.Context, assessmentID string) (segment.Report, error)
	Benchmark(ctx context.Context, assessmentID string) (benchmark.Comparison, error)
	Clusters(ctx context.Context, assessmentID string) (cluster.Report, error)
	Trends(ctx context.Context, org string) (trend.Report, error)
	Live(ctx context.Context, assessmentID string) (service.Live, error)
	Rejections(ctx context.Context, assessmentID string) (ledger.Audit, error)
}

// ReportHandler serves the computed artifacts of an assessment.
type ReportHandler struct {
	deps ReportDependencies
}

// NewReportHandler creates a new report handler.
func NewReportHandler(deps ReportDependencies) *ReportHandler {
	return &ReportHandler{deps: deps}
}

// serve runs one read-out for the {id} path value.
func serve[T any](w http.ResponseWriter, r *http.Request, read func(context.Context, string) (T, error)) {
	out, err := read(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleValidation handles GET /assessments/{id}/validation requests.
func (h *ReportHandler) HandleValidation(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Validation)
}

// HandleScores handles GET /assessments/{id}/scores requests.
func (h *ReportHandler) HandleScores(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Scores)
}

// HandleSegments handles GET /assessments/{id}/segments requests.
func (h *ReportHandler) HandleSegments(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Segments)
}

// HandleBenchmark handles GET /assessments/{id}/benchmark requests.
func (h *ReportHandler) HandleBenchmark(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Benchmark)
}

// HandleClusters handles GET /assessments/{id}/clusters requests.
func (h *ReportHandler) HandleClusters(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Clusters)
}

// HandleTrends handles GET /organizations/{id}/trends requests.
func (h *ReportHandler) HandleTrends(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Trends)
}

// HandleLive handles GET /assessments/{id}/live requests.
func (h *ReportHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Live)
}

// HandleRejections handles GET /assessments/{id}/rejections requests.
func (h *ReportHandler) HandleRejections(w http.ResponseWriter, r *http.Request) {
	serve(w, r, h.deps.Rejections)
}
