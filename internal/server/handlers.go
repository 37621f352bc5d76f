package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "trademonitor",
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.sessions.Snapshots(),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var userID int64
	if v := r.URL.Query().Get("user_id"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "user_id must be an integer")
			return
		}
		userID = parsed
	}

	rules, err := s.store.ListActiveRules(r.Context(), userID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to list rules")
		s.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

func (s *Server) handleRuleFireLog(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	ruleID, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	logs, err := s.store.ListFireLogs(r.Context(), ruleID, limit)
	if err != nil {
		s.log.Error().Err(err).Int64("rule_id", ruleID).Msg("failed to list fire log")
		s.writeError(w, http.StatusInternalServerError, "failed to list fire log")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"fire_log": logs})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
