package webserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/session"
)

type upsertAccountRequest struct {
	Account    string   `json:"account"`
	Identities []string `json:"identities"`
}

type accountResponse struct {
	Identity string         `json:"identity"`
	Balance  ledger.Balance `json:"balance"`
}

// handleUpsertAccount handles POST /api/ledger/accounts. Admin only.
func (s *Server) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !s.admins.IsAuthorized(r.Context(), caller, false) {
		handleError(w, r, session.ErrUnauthorized)
		return
	}

	var req upsertAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	account := strings.TrimSpace(req.Account)
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	identities := make([]string, 0, len(req.Identities))
	for _, id := range req.Identities {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			identities = append(identities, id)
		}
	}

	if err := localdb.UpsertLedgerAccount(account, identities...); err != nil {
		handleError(w, r, err)
		return
	}
	bal, err := s.ledger.Balance(r.Context(), ledger.AccountRef{Account: account})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bal)
}

// handleGetAccount handles GET /api/ledger/accounts/{identity}. Callers see their own balance; admins see any.
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	identity := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "identity")))
	if identity != caller && !s.admins.IsAuthorized(r.Context(), caller, false) {
		handleError(w, r, session.ErrUnauthorized)
		return
	}

	ref, err := s.ledger.ResolveAccount(r.Context(), identity)
	if err != nil {
		handleError(w, r, err)
		return
	}
	bal, err := s.ledger.Balance(r.Context(), ref)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{Identity: identity, Balance: bal})
}
