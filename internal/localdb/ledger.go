package localdb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"go.uber.org/zap"
)

// LedgerPurpose は残高のどの列を動かすか
type LedgerPurpose string

const (
	LedgerPurposeDeduct LedgerPurpose = "deduct"
	LedgerPurposeBonus  LedgerPurpose = "bonus"
)

// LedgerAccount is one balance row. Balance is bonus minus deducts.
type LedgerAccount struct {
	Account   string    `json:"account"`
	Deducts   int64     `json:"deducts"`
	Bonus     int64     `json:"bonus"`
	Notes     string    `json:"notes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerOperation は一度だけ適用される残高変更の記録
type LedgerOperation struct {
	OpID      string        `json:"op_id"`
	Account   string        `json:"account"`
	Purpose   LedgerPurpose `json:"purpose"`
	Amount    int64         `json:"amount"`
	Note      string        `json:"note"`
	AppliedAt time.Time     `json:"applied_at"`
}

// SetupLedgerTables creates ledger_accounts, ledger_identities and ledger_operations.
func SetupLedgerTables(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_accounts (
			account TEXT PRIMARY KEY,
			deducts INTEGER NOT NULL DEFAULT 0,
			bonus INTEGER NOT NULL DEFAULT 0,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		logger.Error("Failed to create ledger_accounts table", zap.Error(err))
		return fmt.Errorf("failed to create ledger_accounts table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_identities (
			identity TEXT PRIMARY KEY,
			account TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (account) REFERENCES ledger_accounts(account) ON DELETE CASCADE
		)
	`); err != nil {
		logger.Error("Failed to create ledger_identities table", zap.Error(err))
		return fmt.Errorf("failed to create ledger_identities table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_operations (
			op_id TEXT PRIMARY KEY,
			account TEXT NOT NULL,
			purpose TEXT NOT NULL,
			amount INTEGER NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		logger.Error("Failed to create ledger_operations table", zap.Error(err))
		return fmt.Errorf("failed to create ledger_operations table: %w", err)
	}

	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_ledger_operations_account ON ledger_operations(account, applied_at DESC)`); err != nil {
		logger.Warn("Failed to create ledger_operations index", zap.Error(err))
	}

	return nil
}

// UpsertLedgerAccount creates the account if missing and links the given identities to it.
func UpsertLedgerAccount(account string, identities ...string) error {
	db := GetDB()
	if db == nil {
		return errNotInitialized
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO ledger_accounts (account) VALUES (?)`, account); err != nil {
		logger.Error("Failed to create ledger account", zap.Error(err), zap.String("account", account))
		return fmt.Errorf("failed to create ledger account: %w", err)
	}

	for _, identity := range identities {
		if identity == "" {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO ledger_identities (identity, account) VALUES (?, ?)
			ON CONFLICT(identity) DO UPDATE SET account = excluded.account
		`, identity, account); err != nil {
			logger.Error("Failed to link ledger identity", zap.Error(err), zap.String("identity", identity))
			return fmt.Errorf("failed to link ledger identity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger account: %w", err)
	}
	return nil
}

// ResolveLedgerIdentity returns the account linked to identity.
// アカウント名そのものも識別子として受け付ける（ハウス口座など）
func ResolveLedgerIdentity(identity string) (string, error) {
	db := GetDB()
	if db == nil {
		return "", errNotInitialized
	}

	var account string
	err := db.QueryRow(`SELECT account FROM ledger_identities WHERE identity = ?`, identity).Scan(&account)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		logger.Error("Failed to resolve ledger identity", zap.Error(err), zap.String("identity", identity))
		return "", fmt.Errorf("failed to resolve ledger identity: %w", err)
	}

	err = db.QueryRow(`SELECT account FROM ledger_accounts WHERE account = ?`, identity).Scan(&account)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRecordNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve ledger account: %w", err)
	}
	return account, nil
}

// GetLedgerAccount returns one account row.
func GetLedgerAccount(account string) (*LedgerAccount, error) {
	db := GetDB()
	if db == nil {
		return nil, errNotInitialized
	}

	var row LedgerAccount
	err := db.QueryRow(`
		SELECT account, deducts, bonus, notes, updated_at
		FROM ledger_accounts WHERE account = ?
	`, account).Scan(&row.Account, &row.Deducts, &row.Bonus, &row.Notes, &row.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		logger.Error("Failed to get ledger account", zap.Error(err), zap.String("account", account))
		return nil, fmt.Errorf("failed to get ledger account: %w", err)
	}
	return &row, nil
}

// ApplyLedgerOperation applies op at most once per OpID.
// 既に適用済みのOpIDならapplied=falseでnilを返す
func ApplyLedgerOperation(op LedgerOperation) (bool, error) {
	db := GetDB()
	if db == nil {
		return false, errNotInitialized
	}

	column := "deducts"
	switch op.Purpose {
	case LedgerPurposeDeduct:
	case LedgerPurposeBonus:
		column = "bonus"
	default:
		return false, fmt.Errorf("unknown ledger purpose: %s", op.Purpose)
	}
	if op.AppliedAt.IsZero() {
		op.AppliedAt = time.Now()
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT OR IGNORE INTO ledger_operations (op_id, account, purpose, amount, note, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, op.OpID, op.Account, string(op.Purpose), op.Amount, op.Note, op.AppliedAt)
	if err != nil {
		return false, fmt.Errorf("failed to record ledger operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.Exec(`
		UPDATE ledger_accounts SET
			`+column+` = `+column+` + ?,
			notes = CASE WHEN notes = '' THEN ? ELSE notes || char(10) || ? END,
			updated_at = ?
		WHERE account = ?
	`, op.Amount, op.Note, op.Note, op.AppliedAt, op.Account)
	if err != nil {
		return false, fmt.Errorf("failed to update ledger account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrRecordNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit ledger operation: %w", err)
	}
	return true, nil
}

// GetLedgerOperations returns operations for account ordered by latest first.
func GetLedgerOperations(account string, limit int) ([]LedgerOperation, error) {
	db := GetDB()
	if db == nil {
		return []LedgerOperation{}, errNotInitialized
	}

	query := `
		SELECT op_id, account, purpose, amount, note, applied_at
		FROM ledger_operations
		WHERE account = ?
		ORDER BY applied_at DESC, rowid DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", account, limit)
	} else {
		rows, err = db.Query(query, account)
	}
	if err != nil {
		logger.Error("Failed to get ledger operations", zap.Error(err))
		return []LedgerOperation{}, fmt.Errorf("failed to get ledger operations: %w", err)
	}
	defer rows.Close()

	ops := []LedgerOperation{}
	for rows.Next() {
		var op LedgerOperation
		var purpose string
		if err := rows.Scan(&op.OpID, &op.Account, &purpose, &op.Amount, &op.Note, &op.AppliedAt); err != nil {
			logger.Error("Failed to scan ledger operation", zap.Error(err))
			continue
		}
		op.Purpose = LedgerPurpose(purpose)
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return []LedgerOperation{}, fmt.Errorf("failed to iterate ledger operations: %w", err)
	}
	return ops, nil
}
