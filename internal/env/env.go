package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	caarlosenv "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nantokaworks/guild-raffle/internal/localdb"
	"github.com/nantokaworks/guild-raffle/internal/settings"
	"github.com/nantokaworks/guild-raffle/internal/shared/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config はプロセス全体の設定値
type Config struct {
	ServerPort int  `env:"SERVER_PORT" envDefault:"8080"`
	DebugMode  bool `env:"DEBUG_MODE" envDefault:"false"`

	FeeRate           decimal.Decimal `env:"FEE_RATE" envDefault:"0.05"`
	LotteryWinnerRule string          `env:"LOTTERY_WINNER_RULE" envDefault:"uniform"`
	HouseAccount      string          `env:"HOUSE_ACCOUNT" envDefault:"Lottery"`
	PayoutConcurrency int             `env:"PAYOUT_CONCURRENCY" envDefault:"4"`

	LedgerMaxRetries        uint     `env:"LEDGER_MAX_RETRIES" envDefault:"3"`
	LedgerRetryBaseMS       int      `env:"LEDGER_RETRY_BASE_MS" envDefault:"50"`
	CooldownSeconds         float64  `env:"COOLDOWN_SECONDS" envDefault:"6"`
	DuelAcceptMinutes       int      `env:"DUEL_ACCEPT_MINUTES" envDefault:"15"`
	LivenessIntervalSeconds int      `env:"LIVENESS_INTERVAL_SECONDS" envDefault:"60"`
	MainAdminIDs            []string `env:"MAIN_ADMIN_IDS" envSeparator:","`

	// 空の場合はpathsのデフォルトを使う
	DBPath  string `env:"DB_PATH"`
	DataDir string `env:"DATA_DIR"`

	// Twitch (チャット連携を使う場合のみ必須)
	ClientID          string `env:"CLIENT_ID"`
	TwitchUserID      string `env:"TWITCH_USER_ID"`
	TwitchBotUserID   string `env:"TWITCH_BOT_USER_ID"`
	TwitchAccessToken string `env:"TWITCH_ACCESS_TOKEN"`
}

// ChatEnabled はTwitchチャット連携に必要な値が揃っているかを返す
func (c Config) ChatEnabled() bool {
	return c.ClientID != "" && c.TwitchUserID != "" && c.TwitchAccessToken != ""
}

func (c Config) LedgerRetryBase() time.Duration {
	return time.Duration(c.LedgerRetryBaseMS) * time.Millisecond
}

func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds * float64(time.Second))
}

func (c Config) DuelAcceptWindow() time.Duration {
	return time.Duration(c.DuelAcceptMinutes) * time.Minute
}

func (c Config) LivenessInterval() time.Duration {
	return time.Duration(c.LivenessIntervalSeconds) * time.Second
}

var Value Config

var parserFuncs = map[reflect.Type]caarlosenv.ParserFunc{
	reflect.TypeOf(decimal.Decimal{}): func(v string) (interface{}, error) {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid decimal %q: %w", v, err)
		}
		return d, nil
	},
}

// Parse は現在の環境変数からConfigを構築する
func Parse() (Config, error) {
	var cfg Config
	if err := caarlosenv.ParseWithOptions(&cfg, caarlosenv.Options{FuncMap: parserFuncs}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// StoragePaths loads .env and returns the data directory and database path overrides.
// DB初期化前に呼ぶため、DBの設定値は反映されない。
func StoragePaths() (dataDir, dbPath string) {
	loadDotEnv()
	cfg, err := Parse()
	if err != nil {
		logger.Warn("Failed to parse environment for storage paths", zap.Error(err))
		return "", ""
	}
	return cfg.DataDir, cfg.DBPath
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", zap.Error(err))
	}
}

// LoadEnv loads .env, overlays settings stored in the database, and parses Value.
// DB初期化後に呼び出すこと。
func LoadEnv() {
	loadDotEnv()
	applyStoredSettings()

	cfg, err := Parse()
	if err != nil {
		logger.Error("Failed to parse environment, using defaults", zap.Error(err))
		cfg, _ = defaults()
	}
	Value = cfg
}

// applyStoredSettings はDBの設定値を未設定の環境変数へ反映する（環境変数が優先）
func applyStoredSettings() {
	db := localdb.GetDB()
	if db == nil {
		return
	}

	sm := settings.NewSettingsManager(db)
	all, err := sm.GetAllSettings()
	if err != nil {
		logger.Warn("Failed to read stored settings", zap.Error(err))
		return
	}

	for key, s := range all {
		if s.Value == "" {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, s.Value); err != nil {
			logger.Warn("Failed to apply stored setting", zap.String("key", key), zap.Error(err))
		}
	}
}

func defaults() (Config, error) {
	var cfg Config
	err := caarlosenv.ParseWithOptions(&cfg, caarlosenv.Options{
		FuncMap:     parserFuncs,
		Environment: map[string]string{},
	})
	return cfg, err
}
