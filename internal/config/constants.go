package config

import "time"

// Constants defining default values for application configuration
const (
	DefaultSourcesCSVPath = "./sources.csv"
	DefaultDBPath         = "./posts.db"
	DefaultCacheDBPath    = "./client-cache.db"

	RemoteSourcesURL = "https://raw.githubusercontent.com/reddot-watch/curated-world-news/main/feeds.csv"

	DefaultAPIBaseURL     = "http://localhost:8080/v1"
	DefaultRequestTimeout = 10 * time.Second
	DefaultCacheTime      = 0 // feed pages are not cached unless -cache-time is set
	DefaultViewRate       = 5.0 // mark-viewed requests per second

	// Page-full thresholds: a page with fewer items than this ends the feed.
	ProductionPageSize  = 20
	DevelopmentPageSize = 5

	DefaultEnvironment = "production"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultWorkerCount   = 0  // 0 means use runtime.NumCPU()
	DefaultInterval      = 15 // Minutes between ingest runs
	DefaultRetentionDays = 7  // Days to keep posts before purging

	DefaultLogLevel = "info"
)
