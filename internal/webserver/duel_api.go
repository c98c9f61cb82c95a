package webserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nantokaworks/guild-raffle/internal/duel"
)

type challengeRequest struct {
	Target string `json:"target"`
	Wager  int64  `json:"wager"`
}

// handleChallenge handles POST /api/duels
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req challengeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	d, err := s.duels.Challenge(r.Context(), caller, strings.ToLower(strings.TrimSpace(req.Target)), req.Wager)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// handleAcceptDuel handles POST /api/duels/{id}/accept and returns the settled duel.
func (s *Server) handleAcceptDuel(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	d, err := s.duels.Accept(r.Context(), chi.URLParam(r, "id"), caller)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleGetDuel(w http.ResponseWriter, r *http.Request) {
	d, ok := s.duels.Get(chi.URLParam(r, "id"))
	if !ok {
		handleError(w, r, duel.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
