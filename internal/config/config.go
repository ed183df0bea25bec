package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Listen address, e.g. ":8080".
	Mode string `yaml:"mode"` // Gin mode: debug, release or test.
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // Postgres or SQLite DSN.
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret           string `yaml:"secret"`             // HMAC signing secret.
	UserExpiryHours  int    `yaml:"user_expiry_hours"`  // User token lifetime in hours.
	AdminExpiryHours int    `yaml:"admin_expiry_hours"` // Admin token lifetime in hours.
}

// UserExpiry returns the user token lifetime with a 72h default.
func (c JWTConfig) UserExpiry() time.Duration {
	if c.UserExpiryHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(c.UserExpiryHours) * time.Hour
}

// AdminExpiry returns the admin token lifetime with a 12h default.
func (c JWTConfig) AdminExpiry() time.Duration {
	if c.AdminExpiryHours <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(c.AdminExpiryHours) * time.Hour
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`        // logrus level name; info when empty.
	File       string `yaml:"file"`         // Log file path; stderr only when empty.
	MaxSizeMB  int    `yaml:"max_size_mb"`  // Rotation threshold in megabytes.
	MaxBackups int    `yaml:"max_backups"`  // Rotated files to keep.
	MaxAgeDays int    `yaml:"max_age_days"` // Max age of rotated files in days.
}

// RedisConfig holds the optional notification channel settings. An empty
// Addr disables publishing entirely.
type RedisConfig struct {
	Addr     string `yaml:"addr"`     // Redis address, host:port.
	Password string `yaml:"password"` // Optional password.
	DB       int    `yaml:"db"`       // Database index.
	Channel  string `yaml:"channel"`  // Pub/sub channel for issued codes.
}

// AdminSeedConfig holds the initial admin account created on migration when
// no admin exists yet.
type AdminSeedConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// AppConfig is the root configuration for the loyalty service.
type AppConfig struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	JWT      JWTConfig       `yaml:"jwt"`
	Logging  LoggingConfig   `yaml:"logging"`
	Redis    RedisConfig     `yaml:"redis"`
	Admin    AdminSeedConfig `yaml:"admin"`
}

// ResolveConfigPath returns the effective config file path, preferring the
// supplied path, then the LOYALTY_CONFIG environment variable, then
// config.yaml next to the working directory.
func ResolveConfigPath(path string) string {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return filepath.Clean(trimmed)
	}
	if env := strings.TrimSpace(os.Getenv("LOYALTY_CONFIG")); env != "" {
		return filepath.Clean(env)
	}
	return "config.yaml"
}

// Load reads the YAML config file and applies environment overrides.
// LOYALTY_DATABASE_DSN and LOYALTY_JWT_SECRET take precedence over the file.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if errDecode := yaml.Unmarshal(data, cfg); errDecode != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, errDecode)
	}

	if dsn := strings.TrimSpace(os.Getenv("LOYALTY_DATABASE_DSN")); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if secret := strings.TrimSpace(os.Getenv("LOYALTY_JWT_SECRET")); secret != "" {
		cfg.JWT.Secret = secret
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8080"
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: missing database dsn")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("config: missing jwt secret")
	}

	return cfg, nil
}
