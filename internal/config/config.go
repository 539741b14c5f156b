package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
)

// Config holds all process configuration
type Config struct {
	SiteRoot        string
	HTTPAddr        string
	RelayConfigPath string
	DataDir         string
	VarDir          string
	LogLevel        string
	MySQL           MySQLConfig
	Redis           RedisConfig
	JWT             JWTConfig
	Automation      AutomationConfig
	PKI             PKIConfig
	TLS             TLSConfig
	TaskSweeper     TaskSweeperConfig
}

// MySQLConfig holds MySQL configuration. An empty DSN keeps the
// relay registry in memory.
type MySQLConfig struct {
	DSN string
}

// RedisConfig holds Redis configuration. An empty Addr disables
// registration tokens.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret        string
	ExpireMinutes int
	Issuer        string
}

// AutomationConfig holds the credentials of the site automation user
type AutomationConfig struct {
	User         string
	PasswordHash string // bcrypt
}

// PKIConfig holds certificate issuance configuration
type PKIConfig struct {
	CertValidityDays int
}

// TLSConfig holds the server certificate. Without one the API is served
// over plain HTTP and relays authenticate with bearer tokens.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Enabled reports whether both a certificate and a key are configured
func (t TLSConfig) Enabled() bool {
	return t.CertFile != "" && t.KeyFile != ""
}

// TaskSweeperConfig holds task sweeper configuration
type TaskSweeperConfig struct {
	Enabled     bool
	IntervalSec int
}

// lookup resolves a key with priority: ENV > INI > default
type lookup struct {
	file *ini.File
}

func (l lookup) str(envKey, section, key, defaultValue string) string {
	if value := os.Getenv(envKey); value != "" {
		return value
	}
	if l.file != nil {
		if value := l.file.Section(section).Key(key).String(); value != "" {
			return value
		}
	}
	return defaultValue
}

func (l lookup) integer(envKey, section, key string, defaultValue int) int {
	if value := os.Getenv(envKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	if l.file != nil && l.file.Section(section).HasKey(key) {
		if value, err := l.file.Section(section).Key(key).Int(); err == nil {
			return value
		}
	}
	return defaultValue
}

func (l lookup) boolean(envKey, section, key string, defaultValue bool) bool {
	if value := os.Getenv(envKey); value != "" {
		return value == "1" || value == "true"
	}
	if l.file != nil && l.file.Section(section).HasKey(key) {
		if value, err := l.file.Section(section).Key(key).Bool(); err == nil {
			return value
		}
	}
	return defaultValue
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()
	return build(lookup{})
}

// LoadFromINI loads configuration from INI file with environment variable override
func LoadFromINI(iniPath string) (*Config, error) {
	_ = godotenv.Load()

	cfgFile, err := ini.Load(iniPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load INI file: %w", err)
	}
	return build(lookup{file: cfgFile})
}

func build(l lookup) (*Config, error) {
	cfg := &Config{
		SiteRoot:        l.str("OMD_ROOT", "site", "root", ""),
		HTTPAddr:        l.str("HTTP_ADDR", "http", "addr", ":8080"),
		RelayConfigPath: l.str("RELAY_CONFIG", "site", "relay_config", ""),
		DataDir:         l.str("DATA_DIR", "site", "data_dir", ""),
		VarDir:          l.str("RELAY_VAR_DIR", "site", "var_dir", ""),
		LogLevel:        l.str("LOG_LEVEL", "log", "level", "info"),
		MySQL: MySQLConfig{
			DSN: l.str("MYSQL_DSN", "mysql", "dsn", ""),
		},
		Redis: RedisConfig{
			Addr:     l.str("REDIS_ADDR", "redis", "addr", ""),
			Password: l.str("REDIS_PASS", "redis", "pass", ""),
			DB:       l.integer("REDIS_DB", "redis", "db", 0),
		},
		JWT: JWTConfig{
			Secret:        l.str("JWT_SECRET", "jwt", "secret", ""),
			ExpireMinutes: l.integer("JWT_EXPIRE_MINUTES", "jwt", "expire_minutes", 1440),
			Issuer:        l.str("JWT_ISSUER", "jwt", "issuer", "relayd"),
		},
		Automation: AutomationConfig{
			User:         l.str("AUTOMATION_USER", "automation", "user", "automation"),
			PasswordHash: l.str("AUTOMATION_PASSWORD_HASH", "automation", "password_hash", ""),
		},
		PKI: PKIConfig{
			CertValidityDays: l.integer("CERT_VALIDITY_DAYS", "pki", "cert_validity_days", 30),
		},
		TLS: TLSConfig{
			CertFile: l.str("TLS_CERT", "tls", "cert", ""),
			KeyFile:  l.str("TLS_KEY", "tls", "key", ""),
		},
		TaskSweeper: TaskSweeperConfig{
			Enabled:     l.boolean("TASK_SWEEPER_ENABLED", "task_sweeper", "enabled", true),
			IntervalSec: l.integer("TASK_SWEEPER_INTERVAL_SEC", "task_sweeper", "interval_sec", 60),
		},
	}

	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.PKI.CertValidityDays <= 0 {
		return nil, fmt.Errorf("CERT_VALIDITY_DAYS must be positive")
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return nil, fmt.Errorf("TLS_CERT and TLS_KEY must be set together")
	}

	return cfg, nil
}

// resolvePaths derives site-relative defaults. The site root is only
// optional when every path is given explicitly.
func (c *Config) resolvePaths() error {
	if c.SiteRoot == "" {
		if c.RelayConfigPath == "" || c.DataDir == "" || c.VarDir == "" {
			return fmt.Errorf("OMD_ROOT is required unless RELAY_CONFIG, DATA_DIR and RELAY_VAR_DIR are all set")
		}
		return nil
	}
	if c.RelayConfigPath == "" {
		c.RelayConfigPath = filepath.Join(c.SiteRoot, "relay_config.json")
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.SiteRoot, "etc", "relay")
	}
	if c.VarDir == "" {
		c.VarDir = filepath.Join(c.SiteRoot, "var", "relay")
	}
	return nil
}
