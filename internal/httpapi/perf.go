package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/phonebridge/internal/observability"
)

// handlePerfLatency reports rolling per-stage session latencies. ?stage=
// narrows the response to one stage.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.SnapshotStages()
	stage := strings.TrimSpace(r.URL.Query().Get("stage"))
	if stage == "" {
		respondJSON(w, http.StatusOK, snap)
		return
	}
	filtered := []observability.StageStats{}
	for _, st := range snap.Stages {
		if st.Stage == stage {
			filtered = append(filtered, st)
		}
	}
	snap.Stages = filtered
	respondJSON(w, http.StatusOK, snap)
}
