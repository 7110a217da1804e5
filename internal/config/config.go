package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type PersistAdapter string

const (
	AdapterLog        PersistAdapter = "log"
	AdapterRelational PersistAdapter = "relational"
)

// ParseAdapter accepts the historical names as aliases.
func ParseAdapter(raw string) (PersistAdapter, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "log", "ndjson":
		return AdapterLog, nil
	case "relational", "sql", "mysql", "db":
		return AdapterRelational, nil
	default:
		return "", fmt.Errorf("unknown persistence adapter %q", raw)
	}
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type PersistConfig struct {
	Adapter    PersistAdapter `yaml:"adapter"`
	DataDir    string         `yaml:"data_dir"`
	Driver     string         `yaml:"driver"`
	SQLitePath string         `yaml:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres"`
	// OpTimeout bounds each storage call. Zero disables the bound.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

type ClientConfig struct {
	BaseURL        string        `yaml:"base_url"`
	CachePath      string        `yaml:"cache_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Config struct {
	HTTPAddr          string        `yaml:"http_addr"`
	LogLevel          string        `yaml:"log_level"`
	LogFormat         string        `yaml:"log_format"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	Persist           PersistConfig `yaml:"persist"`
	Client            ClientConfig  `yaml:"client"`
}

func DefaultConfig() Config {
	return Config{
		HTTPAddr:          ":3001",
		LogLevel:          "info",
		LogFormat:         "json",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxBodyBytes:      1 << 20,
		Persist: PersistConfig{
			Adapter:    AdapterLog,
			DataDir:    defaultDataDir(),
			Driver:     "sqlite",
			SQLitePath: filepath.Join(defaultDataDir(), "ui-layout.db"),
			Postgres:   PostgresConfig{Port: 5432, SSLMode: "disable"},
			OpTimeout:  5 * time.Second,
		},
		Client: ClientConfig{
			BaseURL:        "http://127.0.0.1:3001",
			CachePath:      defaultCachePath(),
			RequestTimeout: 8 * time.Second,
		},
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "layoutsync")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "state", "layoutsync")
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "ui-layout-cache.json"
	}
	return filepath.Join(dir, "layoutsync", "ui-layout-cache.json")
}

// LoadFile overlays a YAML file onto cfg. Fields absent from the file keep their
// current values.
func LoadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables. lookup is os.LookupEnv outside tests.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return cfg, fmt.Errorf("invalid PORT %q", v)
		}
		host, _, err := net.SplitHostPort(cfg.HTTPAddr)
		if err != nil {
			host = ""
		}
		cfg.HTTPAddr = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := get("LOGGING_FORMAT"); ok {
		cfg.LogFormat = v
	}
	if v, ok := get("UI_PERSIST_ADAPTER"); ok {
		adapter, err := ParseAdapter(v)
		if err != nil {
			return cfg, err
		}
		cfg.Persist.Adapter = adapter
	}
	if v, ok := get("UI_PERSIST_DATA_DIR"); ok {
		cfg.Persist.DataDir = v
	}
	if v, ok := get("UI_PERSIST_DRIVER"); ok {
		cfg.Persist.Driver = v
	}
	if v, ok := get("UI_PERSIST_SQLITE_PATH"); ok {
		cfg.Persist.SQLitePath = v
	}
	if v, ok := get("UI_PERSIST_OP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid UI_PERSIST_OP_TIMEOUT %q", v)
		}
		cfg.Persist.OpTimeout = d
	}
	if v, ok := get("DB_HOST"); ok {
		cfg.Persist.Postgres.Host = v
	}
	if v, ok := get("DB_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid DB_PORT %q", v)
		}
		cfg.Persist.Postgres.Port = port
	}
	if v, ok := get("DB_USER"); ok {
		cfg.Persist.Postgres.User = v
	}
	if v, ok := lookup("DB_PASSWORD"); ok {
		cfg.Persist.Postgres.Password = v
	}
	if v, ok := get("DB_NAME"); ok {
		cfg.Persist.Postgres.Database = v
	}
	if v, ok := get("DB_SSLMODE"); ok {
		cfg.Persist.Postgres.SSLMode = v
	}
	if v, ok := get("LAYOUT_API_BASE"); ok {
		cfg.Client.BaseURL = v
	}
	if v, ok := get("LAYOUT_CACHE_PATH"); ok {
		cfg.Client.CachePath = v
	}
	return cfg, nil
}

// Load builds the effective config: defaults, then the optional file, then env.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	var err error
	if path != "" {
		if cfg, err = LoadFile(cfg, path); err != nil {
			return cfg, err
		}
	}
	if cfg, err = ApplyEnv(cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return errors.New("http_addr is required")
	}
	if c.MaxBodyBytes <= 0 {
		return errors.New("max_body_bytes must be positive")
	}
	adapter, err := ParseAdapter(string(c.Persist.Adapter))
	if err != nil {
		return err
	}
	switch adapter {
	case AdapterLog:
		if strings.TrimSpace(c.Persist.DataDir) == "" {
			return errors.New("persist.data_dir is required for the log adapter")
		}
	case AdapterRelational:
		switch strings.ToLower(strings.TrimSpace(c.Persist.Driver)) {
		case "", "sqlite", "sqlite3":
			if strings.TrimSpace(c.Persist.SQLitePath) == "" {
				return errors.New("persist.sqlite_path is required for the sqlite driver")
			}
		case "postgres", "postgresql", "pgx":
			pg := c.Persist.Postgres
			if pg.Host == "" || pg.User == "" || pg.Database == "" {
				return errors.New("postgres requires DB_HOST, DB_USER and DB_NAME")
			}
		default:
			return fmt.Errorf("unsupported persist.driver %q", c.Persist.Driver)
		}
	}
	if c.Persist.OpTimeout < 0 {
		return errors.New("persist.op_timeout must not be negative")
	}
	if c.Client.RequestTimeout < 0 {
		return errors.New("client.request_timeout must not be negative")
	}
	return nil
}
