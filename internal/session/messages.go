package session

import (
	"fmt"
	"strings"
	"time"
)

var placeNames = []string{"", "1st", "2nd", "3rd"}

func kindTitle(k Kind) string {
	if k == KindGiveaway {
		return "giveaway"
	}
	return "lottery"
}

// StartMessage is the chat text announced when a session opens.
func StartMessage(snap Snapshot) string {
	minutes := int(snap.EndTime.Sub(snap.StartTime).Round(time.Minute) / time.Minute)
	switch snap.Kind {
	case KindGiveaway:
		return fmt.Sprintf("A giveaway for %s has started! Type !join to enter. Ends in %d minute(s).", snap.Description, minutes)
	default:
		return fmt.Sprintf("The lottery %s has started! Tickets cost %s (max %d per person). Type !ticket to buy. Ends in %d minute(s).",
			snap.Description, snap.UnitPrice.String(), snap.MaxEntries, minutes)
	}
}

// LiveMessage summarizes an open session.
func LiveMessage(snap Snapshot) string {
	left := snap.TimeRemaining.Round(time.Second)
	if snap.Kind == KindGiveaway {
		return fmt.Sprintf("Giveaway %s: %d participant(s), %s left.", snap.Description, snap.Participants, left)
	}
	return fmt.Sprintf("Lottery %s: %d ticket(s) sold, prize pool %s, %s left.",
		snap.Description, snap.TotalEntriesSold, snap.PrizePool.String(), left)
}

// SettlementMessage is the chat text announced once a session is settled.
func SettlementMessage(st *Settlement) string {
	title := kindTitle(st.Kind)
	name := st.Description
	if name != "" {
		name = " " + name
	}

	switch st.Outcome {
	case OutcomeNoParticipants:
		return fmt.Sprintf("The %s%s has ended with no participants.", title, name)
	case OutcomeFailed:
		return fmt.Sprintf("The %s%s has ended but could not be settled. An admin will look into it.", title, name)
	}

	if st.Kind == KindGiveaway {
		if len(st.Placements) == 0 {
			return fmt.Sprintf("The giveaway%s has ended.", name)
		}
		return fmt.Sprintf("The giveaway%s has ended! Congratulations %s, you won %s!", name, st.Placements[0].ParticipantID, st.Prize)
	}

	parts := make([]string, 0, len(st.Placements))
	for _, p := range st.Placements {
		parts = append(parts, fmt.Sprintf("%s: %s (%d)", placeNames[p.Place], p.ParticipantID, p.Paid))
	}
	msg := fmt.Sprintf("The lottery%s has ended! %d ticket(s) sold, prize pool %s. %s.",
		name, st.TotalEntries, st.PrizePool.String(), strings.Join(parts, ", "))
	if len(st.PayoutFailures) > 0 {
		msg += fmt.Sprintf(" %d payout(s) are pending and will be fixed by an admin.", len(st.PayoutFailures))
	}
	return msg
}
