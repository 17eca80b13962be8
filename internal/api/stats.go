package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /api/v1/stats.
type statsResponse struct {
	Total                int            `json:"total"`
	ByStatus             map[string]int `json:"by_status"`
	ByMode               map[string]int `json:"by_mode"`
	AvgElapsedMS         float64        `json:"avg_elapsed_ms"`
	ProviderCalls        int            `json:"provider_calls"`
	ProviderSuccessRatio float64        `json:"provider_success_ratio"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:                stats.Total,
		ByStatus:             stats.CountByStatus,
		ByMode:               stats.CountByMode,
		AvgElapsedMS:         stats.AvgElapsedMS,
		ProviderCalls:        stats.ProviderCalls,
		ProviderSuccessRatio: stats.ProviderSuccessRatio,
	})
}
