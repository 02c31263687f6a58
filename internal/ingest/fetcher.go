package ingest

import (
	"context"
	"time"

	"github.com/reddot-watch/feedfetcher"
)

// Entry is one item read from an RSS source.
type Entry struct {
	URL         string
	Headline    string
	Content     string
	PublishedAt time.Time
}

// Fetcher reads the current entries of a source.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]Entry, error)
}

// FetcherConfig tunes the RSS fetcher.
type FetcherConfig struct {
	UserAgent      string
	RequestTimeout time.Duration
	MaxItems       int
	MaxAge         time.Duration
}

// DefaultFetcherConfig returns the settings used by the ingest command.
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		UserAgent:      "feedpager/1.0",
		RequestTimeout: 15 * time.Second,
		MaxItems:       100,
		MaxAge:         48 * time.Hour,
	}
}

type rssFetcher struct {
	ff *feedfetcher.FeedFetcher
}

// NewRSSFetcher returns a Fetcher backed by feedfetcher.
func NewRSSFetcher(cfg FetcherConfig) Fetcher {
	return &rssFetcher{
		ff: feedfetcher.NewFeedFetcher(feedfetcher.Config{
			UserAgent:            cfg.UserAgent,
			RequestTimeout:       cfg.RequestTimeout,
			MaxItems:             cfg.MaxItems,
			MaxHeadingLength:     200,
			MaxAge:               cfg.MaxAge,
			FutureDriftTolerance: 12 * time.Hour,
		}),
	}
}

func (f *rssFetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	items, err := f.ff.FetchAndProcess(ctx, url)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{
			URL:         item.URL,
			Headline:    item.Headline,
			Content:     item.Content,
			PublishedAt: item.PublishedAt,
		})
	}
	return entries, nil
}
