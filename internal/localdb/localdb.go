package localdb

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

var DBClient *sql.DB

// ErrRecordNotFound は対象レコードが存在しない場合に返す
var ErrRecordNotFound = errors.New("record not found")

var errNotInitialized = errors.New("database not initialized")

func SetupDB(dbPath string) (*sql.DB, error) {
	if DBClient != nil {
		return DBClient, nil
	}

	// WALモードとBusy Timeoutを設定（Race Condition対策）
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// SQLiteは単一ライターなので接続プールを1に制限
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		setting_type TEXT NOT NULL DEFAULT 'normal',
		is_required BOOLEAN NOT NULL DEFAULT false,
		description TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := SetupLedgerTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := SetupAdminsTable(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := SetupEventHistoryTable(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	DBClient = db
	logger.Debug("Database initialized", zap.String("path", dbPath))
	return db, nil
}

// GetDB は現在のデータベース接続を返します
func GetDB() *sql.DB {
	return DBClient
}

// CloseDB closes the shared connection. SetupDB may be called again afterwards.
func CloseDB() error {
	if DBClient == nil {
		return nil
	}
	err := DBClient.Close()
	DBClient = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
