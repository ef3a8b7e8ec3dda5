// ABOUTME: Configuration loading and parsing for vpnbot
// ABOUTME: Supports YAML files with environment variable expansion and validation

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete vpnbot configuration
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	XUI      XUIConfig      `yaml:"xui"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Reports  ReportsConfig  `yaml:"reports"`
}

// TelegramConfig holds bot API credentials and the admin identity
type TelegramConfig struct {
	Token   string `yaml:"token"`
	AdminID int64  `yaml:"admin_id"`
}

// XUIConfig holds 3x-ui panel connection configuration
type XUIConfig struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"` // skip TLS verification for self-signed panels
}

// ServerConfig holds the public endpoint users connect through
type ServerConfig struct {
	Domain           string `yaml:"domain"`
	SubscriptionPort int    `yaml:"subscription_port"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ReportsConfig holds scheduled report configuration
type ReportsConfig struct {
	Enabled   bool `yaml:"enabled"`
	ChunkSize int  `yaml:"chunk_size"`
}

// DefaultChunkSize is how many report rows go into one Telegram message
const DefaultChunkSize = 30

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Reports.ChunkSize == 0 {
		c.Reports.ChunkSize = DefaultChunkSize
	}
	if c.Server.SubscriptionPort == 0 {
		c.Server.SubscriptionPort = 2096
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.AdminID == 0 {
		return fmt.Errorf("telegram.admin_id is required")
	}

	if c.XUI.Host == "" {
		return fmt.Errorf("xui.host is required")
	}
	if c.XUI.Username == "" {
		return fmt.Errorf("xui.username is required")
	}
	if c.XUI.Password == "" {
		return fmt.Errorf("xui.password is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Reports.ChunkSize < 0 {
		return fmt.Errorf("reports.chunk_size must be positive")
	}

	return nil
}
