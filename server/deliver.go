package server

import (
	"encoding/json"
	"net/http"

	"github.com/turtlesoup0/itnews-sender/guard"
)

// handleDeliver is the scheduler's entry point: the cron service POSTs
// here once a day. An explicit mode=rehearsal runs the pipeline without
// recording anything.
func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mode, err := guard.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info("Deliver endpoint triggered", "mode", mode, "ip", clientIP(r))

	report, err := s.trigger.Execute(r.Context(), mode)
	if err != nil {
		s.logger.Error("Delivery job failed", "mode", mode, "error", err)
		http.Error(w, "Delivery failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		s.logger.Warn("Failed to write deliver response", "error", err)
	}
}
