package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// Admin はイベントを管理できる利用者
type Admin struct {
	Identity  string    `json:"identity"`
	IsMain    bool      `json:"is_main"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

// SetupAdminsTable creates the admins table.
func SetupAdminsTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS admins (
		identity TEXT PRIMARY KEY,
		is_main BOOLEAN NOT NULL DEFAULT false,
		added_by TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		logger.Error("Failed to create admins table", zap.Error(err))
		return fmt.Errorf("failed to create admins table: %w", err)
	}
	return nil
}

// UpsertAdmin adds an admin. An existing main admin is never downgraded.
func UpsertAdmin(identity string, isMain bool, addedBy string) error {
	db := GetDB()
	if db == nil {
		return errNotInitialized
	}

	_, err := db.Exec(`
		INSERT INTO admins (identity, is_main, added_by) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			is_main = admins.is_main OR excluded.is_main
	`, identity, isMain, addedBy)
	if err != nil {
		logger.Error("Failed to upsert admin", zap.Error(err), zap.String("identity", identity))
		return fmt.Errorf("failed to upsert admin: %w", err)
	}
	return nil
}

// GetAdmin returns ErrRecordNotFound when identity is not an admin.
func GetAdmin(identity string) (*Admin, error) {
	db := GetDB()
	if db == nil {
		return nil, errNotInitialized
	}

	var a Admin
	err := db.QueryRow(`
		SELECT identity, is_main, added_by, created_at FROM admins WHERE identity = ?
	`, identity).Scan(&a.Identity, &a.IsMain, &a.AddedBy, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		logger.Error("Failed to get admin", zap.Error(err), zap.String("identity", identity))
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &a, nil
}

// DeleteAdmin removes identity from the admin list.
func DeleteAdmin(identity string) error {
	db := GetDB()
	if db == nil {
		return errNotInitialized
	}

	res, err := db.Exec(`DELETE FROM admins WHERE identity = ?`, identity)
	if err != nil {
		logger.Error("Failed to delete admin", zap.Error(err), zap.String("identity", identity))
		return fmt.Errorf("failed to delete admin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GetAdmins returns all admins, main admins first.
func GetAdmins() ([]Admin, error) {
	db := GetDB()
	if db == nil {
		return []Admin{}, errNotInitialized
	}

	rows, err := db.Query(`SELECT identity, is_main, added_by, created_at FROM admins ORDER BY is_main DESC, identity`)
	if err != nil {
		logger.Error("Failed to get admins", zap.Error(err))
		return []Admin{}, fmt.Errorf("failed to get admins: %w", err)
	}
	defer rows.Close()

	admins := []Admin{}
	for rows.Next() {
		var a Admin
		if err := rows.Scan(&a.Identity, &a.IsMain, &a.AddedBy, &a.CreatedAt); err != nil {
			logger.Error("Failed to scan admin", zap.Error(err))
			continue
		}
		admins = append(admins, a)
	}
	return admins, rows.Err()
}
