package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envOr parses the variable key with parse, falling back to def when it is
// unset, blank or malformed.
func envOr[V any](key string, def V, parse func(string) (V, error)) V {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

// GetEnvString returns the variable key, or def when it is not set.
// A variable set to the empty string is returned as is.
func GetEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

// GetEnvInt returns the variable key as an int.
func GetEnvInt(key string, def int) int {
	return envOr(key, def, strconv.Atoi)
}

// GetEnvFloat returns the variable key as a float64.
func GetEnvFloat(key string, def float64) float64 {
	return envOr(key, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// GetEnvDuration returns the variable key as a duration. Values with a unit
// ("90s", "2m") go through time.ParseDuration, bare integers count in unit.
func GetEnvDuration(key string, def, unit time.Duration) time.Duration {
	return envOr(key, def, func(s string) (time.Duration, error) {
		if n, err := strconv.Atoi(s); err == nil {
			return time.Duration(n) * unit, nil
		}
		return time.ParseDuration(s)
	})
}
