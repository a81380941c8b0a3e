package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"slotkeeper/internal/models"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Booking    BookingConfig    `yaml:"booking"`
	Travel     TravelConfig     `yaml:"travel"`
	Sheets     SheetsConfig     `yaml:"sheets"`
	Exports    ExportConfig     `yaml:"exports"`
	OwnersPath string           `yaml:"owners_path"`
	Owners     []OwnerConfig    `yaml:"owners"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey is one caller of the HTTP API. Permissions: "book", "read",
// "manage" (owner actions), "admin".
type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
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

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// BookingConfig holds the policy knobs of the booking engine.
type BookingConfig struct {
	RateLimitMax         int           `yaml:"rate_limit_max"`
	RateLimitWindow      time.Duration `yaml:"rate_limit_window"`
	PendingTTL           time.Duration `yaml:"pending_ttl"`
	DefaultTravelMinutes int           `yaml:"default_travel_minutes"`
	GraceBufferMinutes   int           `yaml:"grace_buffer_minutes"`
	TravelTimeout        time.Duration `yaml:"travel_timeout"`
	SlotGranularity      int           `yaml:"slot_granularity"`
	SweepSchedule        string        `yaml:"sweep_schedule"`
	TravelRecompute      string        `yaml:"travel_recompute_schedule"`
}

// TravelConfig points at the travel-time service. When TokenURL is set the
// client authenticates with OAuth2 client credentials instead of APIKey.
type TravelConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// SheetsConfig enables the Google Sheets mirror of appointments.
type SheetsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	SheetName       string `yaml:"sheet_name"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Booking.RateLimitMax <= 0 {
		return errors.New("booking.rate_limit_max must be positive")
	}
	if c.Booking.RateLimitWindow <= 0 || c.Booking.PendingTTL <= 0 {
		return errors.New("booking windows must be positive durations")
	}
	if c.Booking.SlotGranularity <= 0 {
		return errors.New("booking.slot_granularity must be positive")
	}
	if c.Booking.DefaultTravelMinutes < 0 || c.Booking.GraceBufferMinutes < 0 {
		return errors.New("booking buffers cannot be negative")
	}
	if c.Sheets.Enabled && (c.Sheets.CredentialsFile == "" || c.Sheets.SpreadsheetID == "") {
		return errors.New("sheets.credentials_file and sheets.spreadsheet_id are required when sheets are enabled")
	}
	if c.API.Auth.Enabled && c.API.Enabled {
		for _, k := range c.API.Auth.APIKeys {
			if strings.TrimSpace(k.Key) == "" {
				return fmt.Errorf("api key %q is empty", k.Name)
			}
		}
	}

	return ValidateOwners(c.Owners)
}

// ValidateOwners checks owner IDs are unique and every owner converts.
func ValidateOwners(owners []OwnerConfig) error {
	ownerIDs := make(map[string]bool)
	for _, o := range owners {
		if strings.TrimSpace(o.ID) == "" {
			return fmt.Errorf("owner '%s' has empty ID", o.Name)
		}
		if ownerIDs[o.ID] {
			return fmt.Errorf("duplicate owner ID found: %s", o.ID)
		}
		ownerIDs[o.ID] = true

		if _, err := o.ToModel(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}

	// Booking defaults
	if c.Booking.RateLimitMax == 0 {
		c.Booking.RateLimitMax = models.DefaultRateLimitMax
	}
	if c.Booking.RateLimitWindow == 0 {
		c.Booking.RateLimitWindow = models.DefaultRateLimitWindow * time.Second
	}
	if c.Booking.PendingTTL == 0 {
		c.Booking.PendingTTL = models.DefaultPendingTTL * time.Second
	}
	if c.Booking.DefaultTravelMinutes == 0 {
		c.Booking.DefaultTravelMinutes = models.DefaultTravelMinutes
	}
	if c.Booking.GraceBufferMinutes == 0 {
		c.Booking.GraceBufferMinutes = models.DefaultGraceBufferMinutes
	}
	if c.Booking.TravelTimeout == 0 {
		c.Booking.TravelTimeout = models.DefaultTravelTimeout * time.Second
	}
	if c.Booking.SlotGranularity == 0 {
		c.Booking.SlotGranularity = models.DefaultSlotGranularity
	}
	if c.Booking.SweepSchedule == "" {
		c.Booking.SweepSchedule = models.DefaultSweepSchedule
	}
	if c.Booking.TravelRecompute == "" {
		c.Booking.TravelRecompute = "@every 5m"
	}
	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Sheets.SheetName == "" {
		c.Sheets.SheetName = "Appointments"
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
