package localdb

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// EventHistory は精算済みイベントの監査記録
type EventHistory struct {
	ID           int       `json:"id"`
	EventID      string    `json:"event_id"`
	Kind         string    `json:"kind"`
	Outcome      string    `json:"outcome"`
	Participants int       `json:"participants"`
	SummaryJSON  string    `json:"summary_json"`
	SettledAt    time.Time `json:"settled_at"`
}

// SetupEventHistoryTable creates the event_history table.
func SetupEventHistoryTable(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS event_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			outcome TEXT NOT NULL,
			participants INTEGER NOT NULL DEFAULT 0,
			summary_json TEXT,
			settled_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		logger.Error("Failed to create event_history table", zap.Error(err))
		return fmt.Errorf("failed to create event_history table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_event_history_settled_at ON event_history(settled_at DESC)`); err != nil {
		logger.Warn("Failed to create event_history index", zap.Error(err))
	}

	return nil
}

// SaveEventHistory saves one settlement record. Saving the same event twice is a no-op.
func SaveEventHistory(history EventHistory) error {
	db := GetDB()
	if db == nil {
		return errNotInitialized
	}

	if history.SettledAt.IsZero() {
		history.SettledAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO event_history (
			event_id, kind, outcome, participants, summary_json, settled_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`,
		history.EventID,
		history.Kind,
		history.Outcome,
		history.Participants,
		history.SummaryJSON,
		history.SettledAt,
	)
	if err != nil {
		logger.Error("Failed to save event history", zap.Error(err), zap.String("event_id", history.EventID))
		return fmt.Errorf("failed to save event history: %w", err)
	}

	return nil
}

// GetEventHistory returns history ordered by latest first. kind="" returns every kind.
func GetEventHistory(kind string, limit int) ([]EventHistory, error) {
	db := GetDB()
	if db == nil {
		return []EventHistory{}, errNotInitialized
	}

	query := `
		SELECT id, event_id, kind, outcome, participants, COALESCE(summary_json, ''), settled_at
		FROM event_history
		WHERE (? = '' OR kind = ?)
		ORDER BY settled_at DESC, id DESC
	`
	args := []any{kind, kind}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		logger.Error("Failed to get event history", zap.Error(err))
		return []EventHistory{}, fmt.Errorf("failed to get event history: %w", err)
	}
	defer rows.Close()

	history := []EventHistory{}
	for rows.Next() {
		var item EventHistory
		if err := rows.Scan(
			&item.ID,
			&item.EventID,
			&item.Kind,
			&item.Outcome,
			&item.Participants,
			&item.SummaryJSON,
			&item.SettledAt,
		); err != nil {
			logger.Error("Failed to scan event history", zap.Error(err))
			continue
		}
		history = append(history, item)
	}

	if err := rows.Err(); err != nil {
		logger.Error("Error iterating event history", zap.Error(err))
		return []EventHistory{}, fmt.Errorf("failed to iterate event history: %w", err)
	}

	return history, nil
}

// DeleteEventHistory deletes history by id.
func DeleteEventHistory(id int) error {
	db := GetDB()
	if db == nil {
		return errNotInitialized
	}

	_, err := db.Exec(`DELETE FROM event_history WHERE id = ?`, id)
	if err != nil {
		logger.Error("Failed to delete event history", zap.Error(err), zap.Int("id", id))
		return fmt.Errorf("failed to delete event history: %w", err)
	}

	return nil
}
