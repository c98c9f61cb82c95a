package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nantokaworks/guild-raffle/internal/localdb"
)

// DBHistory stores settlements in the event_history table.
type DBHistory struct{}

func (DBHistory) RecordSettlement(ctx context.Context, st *Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	summary, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode settlement: %w", err)
	}

	return localdb.SaveEventHistory(localdb.EventHistory{
		EventID:      st.SessionID,
		Kind:         string(st.Kind),
		Outcome:      string(st.Outcome),
		Participants: st.Participants,
		SummaryJSON:  string(summary),
		SettledAt:    st.SettledAt,
	})
}
