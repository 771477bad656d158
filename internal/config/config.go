package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"rollcall/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Sync       SyncConfig       `yaml:"sync"`
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Exports    ExportConfig     `yaml:"exports"`
	Google     GoogleConfig     `yaml:"google"`
	Telegram   TelegramConfig   `yaml:"telegram"`
}

// Delivery modes.
const (
	ModeWebApp = "webapp"
	ModeSheets = "sheets"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

type SyncConfig struct {
	Mode              string        `yaml:"mode"`
	EndpointURL       string        `yaml:"endpoint_url"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	BackoffMin        time.Duration `yaml:"backoff_min"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	Timezone          string        `yaml:"timezone"`
	ConnCheckEnabled  bool          `yaml:"conn_check_enabled"`
	ConnCheckInterval time.Duration `yaml:"conn_check_interval"`
	StartOnline       *bool         `yaml:"start_online"`
}

// Location resolves the timezone used for derived dates.
func (c SyncConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// InitiallyOnline reports the connectivity assumed at startup.
func (c SyncConfig) InitiallyOnline() bool {
	if c.StartOnline == nil {
		return true
	}
	return *c.StartOnline
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool   `yaml:"enabled"`
	HeaderAPIKey string `yaml:"header_api_key"`
	SharedSecret string `yaml:"shared_secret"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken       string  `yaml:"bot_token"`
	AlertChatIDs   []int64 `yaml:"alert_chat_ids"`
	AlertThreshold int     `yaml:"alert_threshold"`
	Debug          bool    `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	SheetName             string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML with ${ENV} expansion, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Sync.Mode {
	case ModeWebApp, ModeSheets:
	default:
		return fmt.Errorf("unknown sync mode %q", c.Sync.Mode)
	}

	if c.Sync.BackoffMax <= c.Sync.BackoffMin {
		return errors.New("sync.backoff_max must be greater than sync.backoff_min")
	}

	if _, err := c.Sync.Location(); err != nil {
		return fmt.Errorf("invalid sync.timezone: %w", err)
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis storage")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	if c.Sync.Mode == ModeSheets && c.Google.GoogleCredentialsFile == "" {
		return errors.New("google credentials file is required for sheets mode")
	}

	if c.API.Enabled && c.API.Auth.Enabled && c.API.Auth.SharedSecret == "" {
		return errors.New("api shared secret is required when auth is enabled")
	}

	return nil
}

// EndpointConfigured mirrors the dispatcher guard: only an http prefix is checked.
func EndpointConfigured(endpoint string) bool {
	return strings.HasPrefix(strings.TrimSpace(endpoint), "http")
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "rollcall"
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = ModeWebApp
	}
	if c.Sync.RequestTimeout == 0 {
		c.Sync.RequestTimeout = models.DefaultRequestTimeout
	}
	if c.Sync.BackoffMin == 0 {
		c.Sync.BackoffMin = models.DefaultBackoffMin
	}
	if c.Sync.BackoffMax == 0 {
		c.Sync.BackoffMax = models.DefaultBackoffMax
	}
	if c.Sync.ConnCheckInterval == 0 {
		c.Sync.ConnCheckInterval = models.DefaultConnCheckInterval
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
		if c.Redis.Address != "" {
			c.Storage.Driver = DriverRedis
		}
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/rollcall.db"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "rollcall"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.Host == "" {
		c.API.HTTP.Host = "127.0.0.1"
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Attendance"
	}
	if c.Telegram.AlertThreshold == 0 {
		c.Telegram.AlertThreshold = 5
	}
}
