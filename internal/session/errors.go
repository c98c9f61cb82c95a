package session

import (
	"errors"
	"fmt"

	"github.com/nantokaworks/guild-raffle/internal/cooldown"
	"github.com/nantokaworks/guild-raffle/internal/ledger"
)

var (
	ErrInvalidWindow    = errors.New("event end time must be in the future")
	ErrInvalidConfig    = errors.New("invalid event configuration")
	ErrCapReached       = errors.New("entry limit reached")
	ErrSessionClosed    = errors.New("event is closed")
	ErrSlotBusy         = errors.New("an event of this kind is already running")
	ErrNotFound         = errors.New("event not found")
	ErrUnauthorized     = errors.New("not authorized")
	ErrEmptyParticipant = errors.New("participant id is required")

	// ErrAlreadyJoined is ErrCapReached for giveaways.
	ErrAlreadyJoined = fmt.Errorf("already joined: %w", ErrCapReached)
)

// Reason returns the message shown to participants for err.
func Reason(err error) string {
	var cd *cooldown.Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &cd):
		return cd.Error()
	case errors.Is(err, ErrAlreadyJoined):
		return "You have already joined this giveaway."
	case errors.Is(err, ErrCapReached):
		return "You have reached the maximum number of tickets you can buy."
	case errors.Is(err, ErrSessionClosed):
		return "The event is closed."
	case errors.Is(err, ErrNotFound):
		return "There is no event running right now."
	case errors.Is(err, ErrSlotBusy):
		return "An event of this kind is already running."
	case errors.Is(err, ErrUnauthorized):
		return "You are not allowed to do that."
	case errors.Is(err, ErrInvalidWindow):
		return "The event must end in the future."
	case errors.Is(err, ErrInvalidConfig):
		return "Invalid event settings: " + err.Error()
	case errors.Is(err, ErrEmptyParticipant):
		return "Missing participant."
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "You don't have a ledger account yet!"
	default:
		return "Something went wrong, please try again."
	}
}
