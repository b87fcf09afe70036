package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/canaryops/rollout-agent/internal/analysis"
)

func (s *Server) handleA2AHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"agent":   "rollout-agent",
		"version": Version,
	})
}

// handleAnalyze is the main analysis endpoint, called by the rollout
// controller when a canary looks unhealthy. Failures never leave the
// caller without a decision: any error maps to a 500 with a safe-default
// promote verdict at zero confidence.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req analysis.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, safeDefaultResponse("invalid request body: "+err.Error()))
		return
	}

	analysisID := uuid.NewString()
	logger := s.logger.With(
		zap.String("analysis_id", analysisID),
		zap.String("user_id", req.UserID))
	logger.Info("received analysis request")

	resp, err := s.orchestrator.Analyze(r.Context(), &req, nil)
	if err != nil {
		logger.Error("analysis failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, safeDefaultResponse(err.Error()))
		return
	}

	logger.Info("analysis request completed",
		zap.Bool("promote", resp.Promote),
		zap.Int("confidence", resp.Confidence))
	writeJSON(w, http.StatusOK, resp)
}

// safeDefaultResponse is the verdict returned when analysis cannot run:
// promote at zero confidence, so an agent outage never blocks a rollout
// on its own.
func safeDefaultResponse(errMsg string) *analysis.Response {
	return &analysis.Response{
		Analysis:    "Error: " + errMsg,
		RootCause:   "Analysis failed",
		Remediation: "Unable to provide remediation",
		Promote:     true,
		Confidence:  0,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
