package webserver

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/nantokaworks/guild-raffle/internal/admin"
	"github.com/nantokaworks/guild-raffle/internal/cooldown"
	"github.com/nantokaworks/guild-raffle/internal/duel"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
	"github.com/nantokaworks/guild-raffle/internal/session"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// userIDHeader carries the caller identity set by the fronting proxy.
const userIDHeader = "X-User-ID"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func callerID(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(r.Header.Get(userIDHeader)))
}

// requireCaller writes 401 and returns false when the identity header is missing.
func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := callerID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, userIDHeader+" header is required")
		return "", false
	}
	return id, true
}

var duelErrors = []error{
	duel.ErrAlreadyEngaged, duel.ErrNotTarget, duel.ErrDuelExpired,
	duel.ErrSelfChallenge, duel.ErrInvalidWager, duel.ErrNotFound, duel.ErrMissingPlayer,
	duel.ErrTargetAccount,
}

var adminErrors = []error{
	admin.ErrForbidden, admin.ErrNotAdmin, admin.ErrRemoveMain, admin.ErrEmptyTarget,
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func statusFor(err error) int {
	var cd *cooldown.Error
	switch {
	case errors.As(err, &cd):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrUnauthorized),
		errors.Is(err, admin.ErrForbidden),
		errors.Is(err, duel.ErrNotTarget):
		return http.StatusForbidden
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, duel.ErrNotFound),
		errors.Is(err, admin.ErrNotAdmin),
		errors.Is(err, ledger.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidWindow),
		errors.Is(err, session.ErrInvalidConfig),
		errors.Is(err, session.ErrEmptyParticipant),
		errors.Is(err, duel.ErrSelfChallenge),
		errors.Is(err, duel.ErrInvalidWager),
		errors.Is(err, duel.ErrMissingPlayer),
		errors.Is(err, admin.ErrEmptyTarget):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrCapReached),
		errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, session.ErrSlotBusy),
		errors.Is(err, duel.ErrAlreadyEngaged),
		errors.Is(err, duel.ErrDuelExpired),
		errors.Is(err, admin.ErrRemoveMain):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func reasonFor(err error) string {
	switch {
	case isAny(err, duelErrors):
		return duel.Reason(err)
	case isAny(err, adminErrors):
		return admin.Reason(err)
	default:
		return session.Reason(err)
	}
}

// handleError writes err with its HTTP status and the participant-facing reason.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	var cd *cooldown.Error
	if errors.As(err, &cd) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(cd.Remaining.Seconds()))))
	}
	writeError(w, status, reasonFor(err))
}
