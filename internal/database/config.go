package database

import "time"

// Config describes how to open the sqlite database. Zero values of the
// tuning fields are replaced by withDefaults.
type Config struct {
	DBPath string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	CacheSizeKB     int // negative values are KiB, as in PRAGMA cache_size
	BusyTimeoutMS   int

	ReadOnly       bool
	SkipMigrations bool
}

// NewConfig returns a read-write configuration for the database at dbPath.
func NewConfig(dbPath string) *Config {
	return (&Config{DBPath: dbPath}).withDefaults()
}

func (c *Config) withDefaults() *Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 12
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.CacheSizeKB == 0 {
		c.CacheSizeKB = -64000
	}
	if c.BusyTimeoutMS <= 0 {
		c.BusyTimeoutMS = 5000
	}
	return c
}
