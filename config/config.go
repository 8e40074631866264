package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Data directory
	DataDir string

	// Database
	DatabasePath string

	// Logging
	LogLevel string
	LogFile  string

	// opencode server
	OpencodeURL      string
	OpencodeUsername string
	OpencodePassword string
	OpencodeTimeout  time.Duration

	// Session directory cache
	SyncInterval time.Duration
	WatchStorage bool
	StorageRoots []string // skips discovery through opencode's path endpoint

	// Debug settings
	DBLogQueries bool
}

// fileConfig mirrors the optional YAML overlay. Every field is optional.
type fileConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Env      string `yaml:"env"`
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	Opencode struct {
		URL      string `yaml:"url"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"opencode"`
	Sessions struct {
		SyncInterval string   `yaml:"sync_interval"`
		WatchStorage *bool    `yaml:"watch_storage"`
		StorageRoots []string `yaml:"storage_roots"`
	} `yaml:"sessions"`
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

func load() *Config {
	return loadFrom(os.Getenv("OPENCODE_BOT_CONFIG"))
}

// loadFrom reads the optional YAML file, then lets environment variables
// override it. A file that fails to load is ignored as a whole.
func loadFrom(path string) *Config {
	c := defaults()

	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			// The logger depends on config, so this is the one place we print directly.
			fmt.Fprintf(os.Stderr, "config: ignoring %s: %v\n", path, err)
		} else {
			c = fileCfg
		}
	}

	c.applyEnv()
	c.DatabasePath = filepath.Join(c.DataDir, "opencode-bot.sqlite")
	return c
}

func defaults() *Config {
	return &Config{
		Port:            12346,
		Host:            "127.0.0.1",
		Env:             "development",
		DataDir:         "./data",
		LogLevel:        "info",
		OpencodeURL:     "http://127.0.0.1:4096",
		OpencodeTimeout: 30 * time.Second,
		SyncInterval:    2 * time.Minute,
		WatchStorage:    true,
	}
}

// LoadFile builds a config from defaults plus the given YAML file, without env overrides.
func LoadFile(path string) (*Config, error) {
	c := defaults()
	if err := c.applyFile(path); err != nil {
		return nil, err
	}
	c.DatabasePath = filepath.Join(c.DataDir, "opencode-bot.sqlite")
	return c, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if fc.Port != 0 {
		c.Port = fc.Port
	}
	if fc.Host != "" {
		c.Host = fc.Host
	}
	if fc.Env != "" {
		c.Env = fc.Env
	}
	if fc.DataDir != "" {
		c.DataDir = fc.DataDir
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogFile != "" {
		c.LogFile = fc.LogFile
	}
	if fc.Opencode.URL != "" {
		c.OpencodeURL = fc.Opencode.URL
	}
	if fc.Opencode.Username != "" {
		c.OpencodeUsername = fc.Opencode.Username
	}
	if fc.Opencode.Password != "" {
		c.OpencodePassword = fc.Opencode.Password
	}
	if fc.Opencode.Timeout != "" {
		d, err := time.ParseDuration(fc.Opencode.Timeout)
		if err != nil {
			return fmt.Errorf("invalid opencode.timeout: %w", err)
		}
		c.OpencodeTimeout = d
	}
	if fc.Sessions.SyncInterval != "" {
		d, err := time.ParseDuration(fc.Sessions.SyncInterval)
		if err != nil {
			return fmt.Errorf("invalid sessions.sync_interval: %w", err)
		}
		c.SyncInterval = d
	}
	if fc.Sessions.WatchStorage != nil {
		c.WatchStorage = *fc.Sessions.WatchStorage
	}
	if len(fc.Sessions.StorageRoots) > 0 {
		c.StorageRoots = fc.Sessions.StorageRoots
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("PORT", c.Port)
	c.Host = getEnv("HOST", c.Host)
	c.Env = getEnv("ENV", c.Env)
	c.DataDir = getEnv("OPENCODE_BOT_DATA_DIR", c.DataDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)

	c.OpencodeURL = getEnv("OPENCODE_URL", c.OpencodeURL)
	c.OpencodeUsername = getEnv("OPENCODE_SERVER_USERNAME", c.OpencodeUsername)
	c.OpencodePassword = getEnv("OPENCODE_SERVER_PASSWORD", c.OpencodePassword)
	c.OpencodeTimeout = getEnvDuration("OPENCODE_TIMEOUT", c.OpencodeTimeout)

	c.SyncInterval = getEnvDuration("SESSION_SYNC_INTERVAL", c.SyncInterval)
	if v := os.Getenv("SESSION_WATCH_STORAGE"); v != "" {
		c.WatchStorage = v != "0" && v != "false"
	}
	// Separated like PATH
	if v := os.Getenv("SESSION_STORAGE_ROOTS"); v != "" {
		c.StorageRoots = filepath.SplitList(v)
	}

	c.DBLogQueries = getEnv("DB_LOG_QUERIES", "") == "1"
}

// Validate reports configuration that cannot work
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.OpencodeURL == "" {
		return fmt.Errorf("opencode url is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
