package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvAPIKey    = "EXCHANGE_API_KEY"
	EnvAPISecret = "EXCHANGE_API_SECRET"
	EnvReal      = "EXCHANGE_REAL"
)

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Trading   TradingConfig   `yaml:"trading"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Telegram  TelegramConfig  `yaml:"telegram"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// ExchangeConfig holds the endpoints of the exchange. Credentials are never
// read from the YAML file; see Credentials.
type ExchangeConfig struct {
	DataURL    string        `yaml:"data_url"`
	TradingURL string        `yaml:"trading_url"`
	Timeout    time.Duration `yaml:"timeout"`
	Real       bool          `yaml:"real"`
}

type TradingConfig struct {
	CollapsePause    time.Duration `yaml:"collapse_pause"`
	SettlePause      time.Duration `yaml:"settle_pause"`
	BaselineAttempts int           `yaml:"baseline_attempts"`
	RetryInterval    time.Duration `yaml:"retry_interval"`
	TeardownTimeout  time.Duration `yaml:"teardown_timeout"`
	RewardAsset      string        `yaml:"reward_asset"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	return m.Enabled != nil && *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type Credentials struct {
	APIKey string
	Secret string
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// CredentialsFromEnv reads the API key and secret used to sign private calls.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		APIKey: strings.TrimSpace(os.Getenv(EnvAPIKey)),
		Secret: strings.TrimSpace(os.Getenv(EnvAPISecret)),
	}
	if creds.APIKey == "" {
		return Credentials{}, errors.New(EnvAPIKey + " is required")
	}
	if creds.Secret == "" {
		return Credentials{}, errors.New(EnvAPISecret + " is required")
	}
	return creds, nil
}

func applyEnv(cfg *Config) error {
	raw, ok := os.LookupEnv(EnvReal)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	real, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return errors.New(EnvReal + " must be a boolean")
	}
	cfg.Exchange.Real = real
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}
	cfg.Exchange.DataURL = strings.TrimRight(strings.TrimSpace(cfg.Exchange.DataURL), "/")
	cfg.Exchange.TradingURL = strings.TrimRight(strings.TrimSpace(cfg.Exchange.TradingURL), "/")
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 5 * time.Second
	}
	if cfg.Trading.CollapsePause == 0 {
		cfg.Trading.CollapsePause = 2 * time.Second
	}
	if cfg.Trading.SettlePause == 0 {
		cfg.Trading.SettlePause = 500 * time.Millisecond
	}
	if cfg.Trading.BaselineAttempts == 0 {
		cfg.Trading.BaselineAttempts = 3
	}
	if cfg.Trading.RetryInterval == 0 {
		cfg.Trading.RetryInterval = 200 * time.Millisecond
	}
	if cfg.Trading.TeardownTimeout == 0 {
		cfg.Trading.TeardownTimeout = 15 * time.Second
	}
	if cfg.Trading.RewardAsset == "" {
		cfg.Trading.RewardAsset = "POINT"
	}
	cfg.Trading.RewardAsset = strings.ToUpper(strings.TrimSpace(cfg.Trading.RewardAsset))
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/pairquote-bot.db"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := false
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Exchange.DataURL == "" {
		return errors.New("exchange.data_url is required")
	}
	if cfg.Exchange.TradingURL == "" {
		return errors.New("exchange.trading_url is required")
	}
	if cfg.Exchange.Timeout < 0 {
		return errors.New("exchange.timeout must be >= 0")
	}
	if cfg.Trading.CollapsePause < 0 {
		return errors.New("trading.collapse_pause must be >= 0")
	}
	if cfg.Trading.SettlePause < 0 {
		return errors.New("trading.settle_pause must be >= 0")
	}
	if cfg.Trading.BaselineAttempts < 1 {
		return errors.New("trading.baseline_attempts must be >= 1")
	}
	if cfg.Trading.TeardownTimeout < 0 {
		return errors.New("trading.teardown_timeout must be >= 0")
	}
	switch cfg.Log.Encoding {
	case "json", "console":
	default:
		return errors.New("log.encoding must be json or console")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	return nil
}
