package api

import (
	"context"
	"net/http"
	"time"
)

// StatsProvider exposes pipeline and ledger counters.
type StatsProvider interface {
	GetStats(ctx context.Context) map[string]interface{}
}

// StatsHandler serves the provider's counters plus the handler's uptime.
type StatsHandler struct {
	provider StatsProvider
	since    time.Time
}

// NewStatsHandler creates a stats handler; uptime counts from now.
func NewStatsHandler(provider StatsProvider) *StatsHandler {
	return &StatsHandler{provider: provider, since: time.Now()}
}

// HandleStats handles GET /stats requests.
func (h *StatsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	src := h.provider.GetStats(r.Context())
	out := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	out["uptimeSeconds"] = int64(time.Since(h.since).Seconds())
	writeJSON(w, http.StatusOK, out)
}
