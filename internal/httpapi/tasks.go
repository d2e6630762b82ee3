package httpapi

import (
	"net/http"
	"strings"

	"github.com/gmarchetti/donna/internal/tasks"
)

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "owner identity header is required")
		return
	}

	filter := tasks.Filter(strings.TrimSpace(r.URL.Query().Get("filter")))
	list, err := s.executor.List(r.Context(), owner, filter)
	if err != nil {
		respondCommandError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"tasks": list})
}
