package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	Backend  BackendConfig  `yaml:"backend"`
	WS       WSConfig       `yaml:"ws"`
	State    StateConfig    `yaml:"state"`
	History  HistoryConfig  `yaml:"history"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Health   HealthConfig   `yaml:"health"`
	QuestDB  QuestDBConfig  `yaml:"questdb"`
	Telegram TelegramConfig `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// BackendConfig points at the trading backend origin. The account WS and the
// order-history REST endpoints both hang off this origin.
type BackendConfig struct {
	Origin      string        `yaml:"origin"`
	RESTTimeout time.Duration `yaml:"rest_timeout"`
}

type WSConfig struct {
	Path           string        `yaml:"path"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	Topics         []string      `yaml:"topics"`
	Symbols        []string      `yaml:"symbols"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type HistoryConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

type HealthConfig struct {
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type QuestDBConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
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
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

func applyEnvOverrides(cfg *Config) {
	if token := strings.TrimSpace(os.Getenv("MIRROR_TELEGRAM_TOKEN")); token != "" {
		cfg.Telegram.Token = token
	}
	if chatID := strings.TrimSpace(os.Getenv("MIRROR_TELEGRAM_CHAT_ID")); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if dsn := strings.TrimSpace(os.Getenv("MIRROR_QUESTDB_DSN")); dsn != "" {
		cfg.QuestDB.DSN = dsn
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Backend.Origin == "" {
		cfg.Backend.Origin = "http://localhost:8080"
	}
	if cfg.Backend.RESTTimeout == 0 {
		cfg.Backend.RESTTimeout = 10 * time.Second
	}
	if cfg.WS.Path == "" {
		cfg.WS.Path = "/api/account-ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 5 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/account-mirror.db"
	}
	if cfg.History.Path == "" {
		cfg.History.Path = "/api/account/order-history"
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = ":9102"
	}
	if cfg.Health.SnapshotInterval == 0 {
		cfg.Health.SnapshotInterval = 15 * time.Second
	}
	if cfg.QuestDB.QueueSize == 0 {
		cfg.QuestDB.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	origin := strings.TrimSpace(cfg.Backend.Origin)
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return errors.New("backend.origin must be an http(s) origin")
	}
	if !strings.HasPrefix(cfg.WS.Path, "/") {
		return errors.New("ws.path must start with /")
	}
	if cfg.WS.ReconnectDelay < 0 {
		return errors.New("ws.reconnect_delay must be >= 0")
	}
	if cfg.QuestDB.Enabled && strings.TrimSpace(cfg.QuestDB.DSN) == "" {
		return errors.New("questdb.dsn is required when questdb is enabled")
	}
	if cfg.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.ChatID) == "") {
		return errors.New("telegram token and chat_id are required when telegram is enabled")
	}
	return nil
}
