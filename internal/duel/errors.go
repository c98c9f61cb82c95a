package duel

import (
	"errors"
	"fmt"

	"github.com/nantokaworks/guild-raffle/internal/ledger"
)

var (
	ErrAlreadyEngaged = errors.New("target is already in a duel")
	ErrNotTarget      = errors.New("only the challenged player can accept")
	ErrDuelExpired    = errors.New("duel invitation has expired")
	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrInvalidWager   = errors.New("wager must be a positive whole number")
	ErrNotFound       = errors.New("duel not found")
	ErrMissingPlayer  = errors.New("player is required")
	ErrTargetAccount  = errors.New("target has no ledger account")
)

// engagedError names the busy target in its message.
type engagedError struct {
	target string
}

func (e *engagedError) Error() string {
	return fmt.Sprintf("%s has already accepted another Deathroll!", e.target)
}

func (e *engagedError) Is(target error) bool {
	return target == ErrAlreadyEngaged
}

// Reason returns the message shown to players for err.
func Reason(err error) string {
	var engaged *engagedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &engaged):
		return engaged.Error()
	case errors.Is(err, ErrAlreadyEngaged):
		return "That player has already accepted another Deathroll!"
	case errors.Is(err, ErrNotTarget):
		return "This Deathroll was not meant for you."
	case errors.Is(err, ErrDuelExpired):
		return "This Deathroll challenge has expired."
	case errors.Is(err, ErrSelfChallenge):
		return "You cannot challenge yourself."
	case errors.Is(err, ErrInvalidWager):
		return "The wager must be a positive whole number."
	case errors.Is(err, ErrMissingPlayer):
		return "You need to specify a valid user to challenge."
	case errors.Is(err, ErrNotFound):
		return "There is no Deathroll waiting for you."
	case errors.Is(err, ErrTargetAccount):
		return "Target user doesn't have a ledger account!"
	case errors.Is(err, ledger.ErrAccountNotFound):
		return "You don't have a ledger account yet!"
	default:
		return "Something went wrong, please try again."
	}
}
