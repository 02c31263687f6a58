// Package cache keeps successful API responses for a short, fixed time.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
	"time"
)

// DefaultTTL is how long a response stays valid unless the request overrides it.
const DefaultTTL = 60 * time.Second

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store persists response bodies with an expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Purge drops expired entries and reports how many were removed.
	Purge(ctx context.Context) (int64, error)
}

// Key derives the cache key of a request from its method, URL, body and query params.
func Key(method, rawURL string, body []byte, params url.Values) string {
	h := sha256.New()
	for _, part := range []string{strings.ToUpper(method), rawURL, string(body), params.Encode()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type clock func() time.Time
