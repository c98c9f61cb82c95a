package webserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nantokaworks/guild-raffle/internal/session"
	"github.com/shopspring/decimal"
)

type createLotteryRequest struct {
	Description     string          `json:"description"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	MaxEntries      int             `json:"max_entries"`
	DurationMinutes float64         `json:"duration_minutes"`
}

type createGiveawayRequest struct {
	Prize           string  `json:"prize"`
	DurationMinutes float64 `json:"duration_minutes"`
}

type submitEntryRequest struct {
	RequestID string `json:"request_id"`
}

type entryResponse struct {
	SessionID string `json:"session_id"`
	Count     int    `json:"count"`
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// handleCreateLottery handles POST /api/lottery
func (s *Server) handleCreateLottery(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createLotteryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := s.manager.CreateLottery(r.Context(), caller, session.LotteryParams{
		Description: req.Description,
		UnitPrice:   req.UnitPrice,
		MaxEntries:  req.MaxEntries,
		Duration:    minutes(req.DurationMinutes),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// handleCreateGiveaway handles POST /api/giveaway
func (s *Server) handleCreateGiveaway(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createGiveawayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := s.manager.CreateGiveaway(r.Context(), caller, session.GiveawayParams{
		Prize:    req.Prize,
		Duration: minutes(req.DurationMinutes),
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		handleError(w, r, session.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleSubmitEntry handles POST /api/sessions/{id}/entries for the calling participant.
func (s *Server) handleSubmitEntry(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req submitEntryRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	sess, count, err := s.manager.SubmitTo(r.Context(), chi.URLParam(r, "id"), caller, req.RequestID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryResponse{SessionID: sess.ID(), Count: count})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	st, err := s.manager.Close(r.Context(), caller, chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
