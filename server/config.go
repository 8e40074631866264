package server

import (
	"time"

	"github.com/xiaoyuanzhu-com/opencode-bot/config"
	"github.com/xiaoyuanzhu-com/opencode-bot/db"
	"github.com/xiaoyuanzhu-com/opencode-bot/opencode"
	"github.com/xiaoyuanzhu-com/opencode-bot/sessiondir"
)

// Config holds server configuration
type Config struct {
	// Server infrastructure (immutable, requires restart)
	Port int
	Host string
	Env  string // "development" or "production"

	// Paths (immutable, requires restart)
	DatabasePath string

	// opencode server
	OpencodeURL      string
	OpencodeUsername string
	OpencodePassword string
	OpencodeTimeout  time.Duration

	// Session directory cache
	SyncInterval time.Duration
	WatchStorage bool
	// StorageRoots skips discovery through the opencode path endpoint
	StorageRoots []string

	// Debug settings
	DBLogQueries bool
}

// FromAppConfig converts the process configuration into server configuration
func FromAppConfig(c *config.Config) *Config {
	return &Config{
		Port:             c.Port,
		Host:             c.Host,
		Env:              c.Env,
		DatabasePath:     c.DatabasePath,
		OpencodeURL:      c.OpencodeURL,
		OpencodeUsername: c.OpencodeUsername,
		OpencodePassword: c.OpencodePassword,
		OpencodeTimeout:  c.OpencodeTimeout,
		SyncInterval:     c.SyncInterval,
		WatchStorage:     c.WatchStorage,
		StorageRoots:     c.StorageRoots,
		DBLogQueries:     c.DBLogQueries,
	}
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// ToDBConfig converts server config to database config
func (c *Config) ToDBConfig() db.Config {
	return db.Config{
		Path:            c.DatabasePath,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: 0, // Never expire
		LogQueries:      c.DBLogQueries,
	}
}

// ToOpencodeConfig converts server config to opencode client config
func (c *Config) ToOpencodeConfig() opencode.Config {
	return opencode.Config{
		BaseURL:  c.OpencodeURL,
		Username: c.OpencodeUsername,
		Password: c.OpencodePassword,
		Timeout:  c.OpencodeTimeout,
	}
}

// ToCacheOptions converts server config to session directory cache options.
// Store, client and hooks are wired by the server.
func (c *Config) ToCacheOptions() sessiondir.Options {
	return sessiondir.Options{
		KeyMode:      sessiondir.KeyModePlatform,
		StorageRoots: c.StorageRoots,
	}
}
