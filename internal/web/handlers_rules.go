package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/formatrack/importd/internal/importer"
)

// handleListRules lists memorized rules, optionally filtered by entityType
// and active flag.
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var entityType importer.EntityType
	if raw := r.URL.Query().Get("entityType"); raw != "" {
		entityType = importer.EntityType(strings.ToUpper(raw))
		if !entityType.Valid() {
			writeError(w, http.StatusBadRequest, "invalid entityType")
			return
		}
	}

	var active *bool
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid active flag")
			return
		}
		active = &v
	}

	rules := s.service.ListRules(entityType, active)
	if rules == nil {
		rules = []importer.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

// handleUpdateRule edits a rule's action, target or active flag.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var upd importer.RuleUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rule, err := s.service.UpdateRule(r.Context(), id, upd)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// handleDeactivateRule soft-deletes a rule; it stops matching but stays
// listed for audit.
func (s *Server) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.DeactivateRule(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePurgeRule hard-deletes a rule.
func (s *Server) handlePurgeRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.PurgeRule(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleMapTargets lists the active entities usable as MAP targets for one
// dimension.
func (s *Server) handleMapTargets(w http.ResponseWriter, r *http.Request) {
	entityType := importer.EntityType(strings.ToUpper(chi.URLParam(r, "entityType")))

	entities, err := s.service.MapTargets(r.Context(), entityType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if entities == nil {
		entities = []importer.Entity{}
	}
	writeJSON(w, http.StatusOK, entities)
}
