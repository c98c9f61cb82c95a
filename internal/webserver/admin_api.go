package webserver

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/session"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

type adminRequest struct {
	Identity string `json:"identity"`
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !s.admins.IsAuthorized(r.Context(), caller, false) {
		handleError(w, r, session.ErrUnauthorized)
		return
	}

	admins, err := s.admins.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, admins)
}

// handleAddAdmin handles POST /api/admins
func (s *Server) handleAddAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req adminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.admins.Add(r.Context(), caller, req.Identity); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"identity": req.Identity})
}

// handleRemoveAdmin handles DELETE /api/admins/{identity}
func (s *Server) handleRemoveAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	identity := chi.URLParam(r, "identity")
	if err := s.admins.Remove(r.Context(), caller, identity); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHistory handles GET /api/history?kind=lottery&limit=20
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !s.admins.IsAuthorized(r.Context(), caller, false) {
		handleError(w, r, session.ErrUnauthorized)
		return
	}

	limit := 20
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	kind := r.URL.Query().Get("kind")
	if kind != "" {
		if _, err := session.ParseKind(kind); err != nil {
			handleError(w, r, err)
			return
		}
	}

	history, err := localdb.GetEventHistory(kind, limit)
	if err != nil {
		logger.Error("Failed to load event history", zap.Error(err))
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
