package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Environment selects build-flavoured defaults such as the page-full threshold.
type Environment string

const (
	Production  Environment = "production"
	Development Environment = "development"
)

// ParseEnvironment maps a string to an Environment, falling back to Production.
func ParseEnvironment(s string) Environment {
	switch Environment(s) {
	case Development, "dev":
		return Development
	default:
		return Production
	}
}

// Config holds all configuration for the application
type Config struct {
	// Feed client settings
	APIBaseURL     string
	Env            Environment
	PageSize       int // 0 means derived from Env
	RequestTimeout time.Duration
	CacheTime      time.Duration // 0 disables the response cache
	CacheDBPath    string        // empty keeps the cache in memory
	ViewRate       float64
	Token          string // bearer token sent by the feed client

	// File paths
	SourcesCSVPath string
	DBPath         string

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Ingest settings
	WorkerCount   int
	Interval      time.Duration
	RetentionDays int

	// Log settings
	LogLevel zerolog.Level
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		APIBaseURL:     DefaultAPIBaseURL,
		Env:            ParseEnvironment(GetEnvString("FEEDPAGER_ENV", DefaultEnvironment)),
		RequestTimeout: DefaultRequestTimeout,
		CacheTime:      DefaultCacheTime,
		ViewRate:       DefaultViewRate,
		Token:          GetEnvString("FEEDPAGER_TOKEN", ""),
		SourcesCSVPath: DefaultSourcesCSVPath,
		DBPath:         DefaultDBPath,
		ServerHost:     DefaultServerHost,
		ServerPort:     DefaultServerPort,
		APIKey:         GetEnvString("FEEDPAGER_API_KEY", ""),
		WorkerCount:    DefaultWorkerCount,
		Interval:       time.Duration(DefaultInterval) * time.Minute,
		RetentionDays:  DefaultRetentionDays,
		LogLevel:       logLevel,
	}
}

// PageFullThreshold is the minimum page length that implies another page exists.
func (c *Config) PageFullThreshold() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	if c.Env == Development {
		return DevelopmentPageSize
	}
	return ProductionPageSize
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}
