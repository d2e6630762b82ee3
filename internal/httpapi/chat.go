package httpapi

import (
	"errors"
	"net/http"

	"github.com/gmarchetti/donna/internal/conversation"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "owner identity header is required")
		return
	}

	var req conversation.Request
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "request body is required")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp, err := s.manager.Handle(r.Context(), owner, req)
	if err != nil {
		respondChatError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}
