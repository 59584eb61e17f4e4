package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// TokenEnv is the environment variable holding the inference API token
const TokenEnv = "REPLICATE_API_TOKEN"

// ErrMissingToken is returned by Validate when no API token is configured
var ErrMissingToken = errors.New("inference API token is not set (" + TokenEnv + ")")

// Config holds all configuration for the studio
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Log        LogConfig        `toml:"log"`
	Replicate  ReplicateConfig  `toml:"replicate"`
	Storage    StorageConfig    `toml:"storage"`
	Database   DatabaseConfig   `toml:"database"`
	Generation GenerationConfig `toml:"generation"`
	Pricing    PricingConfig    `toml:"pricing"`
	Auth       AuthConfig       `toml:"auth"`
	CORS       CORSConfig       `toml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  int    `toml:"read_timeout"`
	WriteTimeout int    `toml:"write_timeout"`
	WebDir       string `toml:"web_dir"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ReplicateConfig holds inference API settings
type ReplicateConfig struct {
	BaseURL string `toml:"base_url"`
	// APIToken may be set here but is normally read from EnvFile or the environment.
	APIToken       string `toml:"api_token,omitempty"`
	EnvFile        string `toml:"env_file"`
	PollInterval   int    `toml:"poll_interval_ms"`
	RequestTimeout int    `toml:"request_timeout"`
}

// StorageConfig holds local persistence settings
type StorageConfig struct {
	Backend      string `toml:"backend"`
	DataDir      string `toml:"data_dir"`
	OutputDir    string `toml:"output_dir"`
	HistoryFile  string `toml:"history_file"`
	UsageFile    string `toml:"usage_file"`
	SQLitePath   string `toml:"sqlite_path"`
	HistoryLimit int    `toml:"history_limit"`
}

// DatabaseConfig holds PostgreSQL configuration for the postgres backend
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`
}

// GenerationConfig holds job execution settings
type GenerationConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
	JobRetention  int `toml:"job_retention"`
}

// PricingConfig holds cost estimation settings
type PricingConfig struct {
	USDToEUR float64 `toml:"usd_to_eur"`
}

// AuthConfig holds dashboard access settings. Auth is off when PasswordHash is empty.
type AuthConfig struct {
	PasswordHash string `toml:"password_hash"`
	JWTSecret    string `toml:"jwt_secret"`
	TokenTTL     int    `toml:"token_ttl_hours"`
	APIKey       string `toml:"api_key"`
}

// CORSConfig holds allowed origins for the API
type CORSConfig struct {
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Load loads configuration from TOML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()
	config.loadSecrets()

	return &config, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return nil, err
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.loadSecrets()
	return cfg
}

// Save saves configuration to TOML file
func (c *Config) Save(path string) error {
	out := *c
	// the token lives in the env file, never in config.toml
	out.Replicate.APIToken = ""

	data, err := toml.Marshal(out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks settings required to talk to the inference API
func (c *Config) Validate() error {
	if c.Replicate.APIToken == "" {
		return ErrMissingToken
	}
	switch c.Storage.Backend {
	case "json", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// EnsureDirs creates necessary directories
func (c *Config) EnsureDirs() error {
	dirs := []string{c.Storage.DataDir, c.Storage.OutputDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// PollIntervalDuration returns the remote status poll interval
func (c *ReplicateConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// TokenTTLDuration returns the lifetime of dashboard tokens
func (c *AuthConfig) TokenTTLDuration() time.Duration {
	return time.Duration(c.TokenTTL) * time.Hour
}

// Enabled reports whether dashboard login is required
func (c *AuthConfig) Enabled() bool {
	return c.PasswordHash != ""
}

// loadSecrets reads the env file (if present) and lets the environment override the token.
func (c *Config) loadSecrets() {
	if c.Replicate.EnvFile != "" {
		// a missing .env is normal on machines that export the variable directly
		_ = godotenv.Load(c.Replicate.EnvFile)
	}
	if token := os.Getenv(TokenEnv); token != "" {
		c.Replicate.APIToken = token
	}
}

// SetDefaults sets default values for config
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8501
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60
	}
	if c.Server.WebDir == "" {
		c.Server.WebDir = "./web/static"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Replicate.BaseURL == "" {
		c.Replicate.BaseURL = "https://api.replicate.com/v1"
	}
	if c.Replicate.EnvFile == "" {
		c.Replicate.EnvFile = ".env"
	}
	if c.Replicate.PollInterval == 0 {
		c.Replicate.PollInterval = 2000
	}
	if c.Replicate.RequestTimeout == 0 {
		c.Replicate.RequestTimeout = 30
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = filepath.Join(c.Storage.DataDir, "outputs")
	}
	if c.Storage.HistoryFile == "" {
		c.Storage.HistoryFile = filepath.Join(c.Storage.DataDir, "history.json")
	}
	if c.Storage.UsageFile == "" {
		c.Storage.UsageFile = filepath.Join(c.Storage.DataDir, "usage_stats.json")
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, "history.db")
	}
	if c.Storage.HistoryLimit == 0 {
		c.Storage.HistoryLimit = 100
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Database == "" {
		c.Database.Database = "studio"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Generation.MaxConcurrent == 0 {
		c.Generation.MaxConcurrent = 2
	}
	if c.Generation.JobRetention == 0 {
		c.Generation.JobRetention = 200
	}
	if c.Pricing.USDToEUR == 0 {
		c.Pricing.USDToEUR = 0.92
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24
	}
}
