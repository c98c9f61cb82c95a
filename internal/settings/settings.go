package settings

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SettingType string

const (
	SettingTypeNormal SettingType = "normal"
	SettingTypeSecret SettingType = "secret"
)

type Setting struct {
	Key         string      `json:"key"`
	Value       string      `json:"value"`
	Type        SettingType `json:"type"`
	Required    bool        `json:"required"`
	Description string      `json:"description"`
	UpdatedAt   time.Time   `json:"updated_at"`
	HasValue    bool        `json:"has_value"` // シークレット値が設定されているかどうか
}

type SettingsManager struct {
	db *sql.DB
}

func NewSettingsManager(db *sql.DB) *SettingsManager {
	return &SettingsManager{db: db}
}

// 設定の定義
var DefaultSettings = map[string]Setting{
	// Twitch設定（機密情報）
	"CLIENT_ID": {
		Key: "CLIENT_ID", Value: "", Type: SettingTypeSecret, Required: false,
		Description: "Twitch API Client ID",
	},
	"TWITCH_USER_ID": {
		Key: "TWITCH_USER_ID", Value: "", Type: SettingTypeSecret, Required: false,
		Description: "Broadcaster user ID whose chat is monitored",
	},
	"TWITCH_BOT_USER_ID": {
		Key: "TWITCH_BOT_USER_ID", Value: "", Type: SettingTypeSecret, Required: false,
		Description: "User ID the bot posts chat replies as",
	},
	"TWITCH_ACCESS_TOKEN": {
		Key: "TWITCH_ACCESS_TOKEN", Value: "", Type: SettingTypeSecret, Required: false,
		Description: "User access token with chat read/write scopes",
	},

	// 抽選・精算設定
	"FEE_RATE": {
		Key: "FEE_RATE", Value: "0.05", Type: SettingTypeNormal, Required: false,
		Description: "House fee taken from the lottery prize pool (0-1)",
	},
	"LOTTERY_WINNER_RULE": {
		Key: "LOTTERY_WINNER_RULE", Value: "uniform", Type: SettingTypeNormal, Required: false,
		Description: "Winner selection rule (uniform or weighted)",
	},
	"HOUSE_ACCOUNT": {
		Key: "HOUSE_ACCOUNT", Value: "Lottery", Type: SettingTypeNormal, Required: false,
		Description: "Ledger account credited with the lottery fee",
	},
	"PAYOUT_CONCURRENCY": {
		Key: "PAYOUT_CONCURRENCY", Value: "4", Type: SettingTypeNormal, Required: false,
		Description: "Maximum concurrent ledger payouts per settlement",
	},
	"LEDGER_MAX_RETRIES": {
		Key: "LEDGER_MAX_RETRIES", Value: "3", Type: SettingTypeNormal, Required: false,
		Description: "Attempts per ledger operation before it is reported as failed",
	},
	"LEDGER_RETRY_BASE_MS": {
		Key: "LEDGER_RETRY_BASE_MS", Value: "50", Type: SettingTypeNormal, Required: false,
		Description: "Initial ledger retry backoff in milliseconds",
	},

	// 動作設定
	"COOLDOWN_SECONDS": {
		Key: "COOLDOWN_SECONDS", Value: "6", Type: SettingTypeNormal, Required: false,
		Description: "Per participant cooldown between chat actions",
	},
	"DUEL_ACCEPT_MINUTES": {
		Key: "DUEL_ACCEPT_MINUTES", Value: "15", Type: SettingTypeNormal, Required: false,
		Description: "Minutes a deathroll challenge stays open",
	},
	"LIVENESS_INTERVAL_SECONDS": {
		Key: "LIVENESS_INTERVAL_SECONDS", Value: "60", Type: SettingTypeNormal, Required: false,
		Description: "Interval for pushing live session state",
	},
	"MAIN_ADMIN_IDS": {
		Key: "MAIN_ADMIN_IDS", Value: "", Type: SettingTypeNormal, Required: false,
		Description: "Comma separated identities seeded as main admins",
	},
	"DEBUG_MODE": {
		Key: "DEBUG_MODE", Value: "false", Type: SettingTypeNormal, Required: false,
		Description: "Enable debug logging",
	},

	// サーバー設定
	"SERVER_PORT": {
		Key: "SERVER_PORT", Value: "8080", Type: SettingTypeNormal, Required: false,
		Description: "HTTP API and websocket port",
	},
}

// 機能の有効性チェック
type FeatureStatus struct {
	ChatConfigured  bool     `json:"chat_configured"`
	MissingSettings []string `json:"missing_settings"`
	Warnings        []string `json:"warnings"`
}

func (sm *SettingsManager) CheckFeatureStatus() (*FeatureStatus, error) {
	status := &FeatureStatus{
		MissingSettings: []string{},
		Warnings:        []string{},
	}

	chatSettings := []string{"CLIENT_ID", "TWITCH_USER_ID", "TWITCH_ACCESS_TOKEN"}
	chatComplete := true
	for _, key := range chatSettings {
		if val, err := sm.GetSetting(key); err != nil || val == "" {
			status.MissingSettings = append(status.MissingSettings, key)
			chatComplete = false
		}
	}
	status.ChatConfigured = chatComplete

	if admins, _ := sm.GetSetting("MAIN_ADMIN_IDS"); strings.TrimSpace(admins) == "" {
		status.Warnings = append(status.Warnings, "MAIN_ADMIN_IDS is empty - only admins stored in the database can start events")
	}

	return status, nil
}

// CRUD操作
func (sm *SettingsManager) GetSetting(key string) (string, error) {
	var value string
	err := sm.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		// デフォルト値を返す
		if defaultSetting, exists := DefaultSettings[key]; exists {
			return defaultSetting.Value, nil
		}
		return "", fmt.Errorf("setting not found: %s", key)
	}
	return value, err
}

func (sm *SettingsManager) SetSetting(key, value string) error {
	defaultSetting, exists := DefaultSettings[key]
	if !exists {
		return fmt.Errorf("unknown setting key: %s", key)
	}
	if err := ValidateSetting(key, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	_, err := sm.db.Exec(`
		INSERT INTO settings (key, value, setting_type, is_required, description)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP`,
		key, value,
		string(defaultSetting.Type),
		defaultSetting.Required,
		defaultSetting.Description,
	)
	return err
}

// GetAllSettings returns stored settings merged with defaults for missing keys.
func (sm *SettingsManager) GetAllSettings() (map[string]Setting, error) {
	rows, err := sm.db.Query(`
		SELECT key, value, setting_type, is_required, description, updated_at
		FROM settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]Setting)
	for rows.Next() {
		var s Setting
		var settingType string
		var description sql.NullString
		if err := rows.Scan(&s.Key, &s.Value, &settingType, &s.Required, &description, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Type = SettingType(settingType)
		s.Description = description.String
		s.HasValue = s.Value != ""

		settings[s.Key] = s
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// DBにない設定はデフォルト値で補完
	for key, defaultSetting := range DefaultSettings {
		if _, exists := settings[key]; !exists {
			settings[key] = defaultSetting
		}
	}

	return settings, nil
}

// 環境変数からの移行
func (sm *SettingsManager) MigrateFromEnv() error {
	migrated := 0

	for key := range DefaultSettings {
		// 既にDB設定が存在する場合はスキップ
		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}

		if envValue := os.Getenv(key); envValue != "" {
			if err := sm.SetSetting(key, envValue); err != nil {
				logger.Error("Failed to migrate setting", zap.String("key", key), zap.Error(err))
				return fmt.Errorf("failed to migrate %s: %w", key, err)
			}
			logger.Info("Migrated setting from environment", zap.String("key", key))
			migrated++
		}
	}

	if migrated > 0 {
		logger.Info("Migration completed", zap.Int("migrated_count", migrated))
		if os.Getenv("TWITCH_ACCESS_TOKEN") != "" {
			logger.Warn("SECURITY WARNING: TWITCH_ACCESS_TOKEN found in environment variables. Remove it from .env once the migration is confirmed.")
		}
	}

	return nil
}

// バリデーション
func ValidateSetting(key, value string) error {
	switch key {
	case "FEE_RATE":
		rate, err := decimal.NewFromString(value)
		if err != nil || rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fmt.Errorf("must be a decimal between 0 and 1")
		}
	case "LOTTERY_WINNER_RULE":
		if value != "uniform" && value != "weighted" {
			return fmt.Errorf("must be 'uniform' or 'weighted'")
		}
	case "PAYOUT_CONCURRENCY", "LEDGER_MAX_RETRIES":
		if val, err := strconv.Atoi(value); err != nil || val < 1 || val > 32 {
			return fmt.Errorf("must be integer between 1 and 32")
		}
	case "LEDGER_RETRY_BASE_MS":
		if val, err := strconv.Atoi(value); err != nil || val < 1 || val > 10000 {
			return fmt.Errorf("must be integer between 1 and 10000")
		}
	case "COOLDOWN_SECONDS":
		if val, err := strconv.ParseFloat(value, 64); err != nil || val < 0 || val > 3600 {
			return fmt.Errorf("must be number between 0 and 3600 seconds")
		}
	case "DUEL_ACCEPT_MINUTES":
		if val, err := strconv.Atoi(value); err != nil || val < 1 || val > 1440 {
			return fmt.Errorf("must be integer between 1 and 1440 minutes")
		}
	case "LIVENESS_INTERVAL_SECONDS":
		if val, err := strconv.Atoi(value); err != nil || val < 5 || val > 3600 {
			return fmt.Errorf("must be integer between 5 and 3600 seconds")
		}
	case "SERVER_PORT":
		if val, err := strconv.Atoi(value); err != nil || val < 1 || val > 65535 {
			return fmt.Errorf("must be a valid port number")
		}
	case "DEBUG_MODE":
		if value != "true" && value != "false" {
			return fmt.Errorf("must be 'true' or 'false'")
		}
	}
	return nil
}

// 初期設定のセットアップ
func (sm *SettingsManager) InitializeDefaultSettings() error {
	for key, setting := range DefaultSettings {
		var existingKey string
		if err := sm.db.QueryRow("SELECT key FROM settings WHERE key = ?", key).Scan(&existingKey); err == nil {
			continue
		}
		// 空の値はenvの上書きを妨げないよう保存しない
		if setting.Value == "" {
			continue
		}

		if err := sm.SetSetting(key, setting.Value); err != nil {
			return fmt.Errorf("failed to initialize setting %s: %w", key, err)
		}
	}
	return nil
}
