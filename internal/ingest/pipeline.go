// Package ingest fills the posts table from the active RSS sources.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reddot-watch/feedpager/internal/database"
	"reddot-watch/feedpager/internal/models"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 2 * time.Second
	maxSourceFailures   = 10
	subtitleLength      = 160
)

// Pipeline fetches sources in parallel and writes their entries as posts in batches.
type Pipeline struct {
	db          *database.DB
	fetcher     Fetcher
	WorkerCount int

	batchSize    int
	batchTimeout time.Duration

	processed  atomic.Int64
	duplicates atomic.Int64
	failed     atomic.Int64
}

// NewPipeline creates a pipeline over an open database. workerCount <= 0 means runtime.NumCPU().
func NewPipeline(db *database.DB, fetcher Fetcher, workerCount int) (*Pipeline, error) {
	if db == nil {
		return nil, errors.New("database connection cannot be nil")
	}
	if fetcher == nil {
		return nil, errors.New("fetcher cannot be nil")
	}
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &Pipeline{
		db:           db,
		fetcher:      fetcher,
		WorkerCount:  workerCount,
		batchSize:    defaultBatchSize,
		batchTimeout: defaultBatchTimeout,
	}, nil
}

// Run processes every active source once. Per-source fetch failures are
// recorded on the source row; only database failures are returned.
func (p *Pipeline) Run(ctx context.Context) error {
	sources, err := p.db.ActiveSources(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("sources", len(sources)).Int("workers", p.WorkerCount).Msg("Starting ingest run")

	sourceQueue := make(chan models.Source, p.WorkerCount*2)
	postQueue := make(chan models.Post, p.WorkerCount*10)

	var (
		errMu    sync.Mutex
		firstErr error
	)
	setErr := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	var workers sync.WaitGroup
	for i := 0; i < p.WorkerCount; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for src := range sourceQueue {
				if err := p.processSource(ctx, src, postQueue); err != nil {
					setErr(err)
				}
			}
		}()
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := p.writePosts(ctx, postQueue); err != nil {
			setErr(err)
		}
	}()

queue:
	for _, src := range sources {
		select {
		case sourceQueue <- src:
		case <-ctx.Done():
			log.Info().Err(ctx.Err()).Msg("Context cancelled while queueing sources")
			break queue
		}
	}
	close(sourceQueue)

	workers.Wait()
	close(postQueue)
	<-writerDone

	processed, duplicates := p.Stats()
	log.Info().
		Int64("processed", processed).
		Int64("duplicates", duplicates).
		Int64("failed_sources", p.failed.Load()).
		Msg("Ingest run complete")
	return firstErr
}

func (p *Pipeline) processSource(ctx context.Context, src models.Source, out chan<- models.Post) error {
	logger := log.With().Int64("source_id", src.ID).Str("url", src.URL).Logger()

	fetchCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	entries, fetchErr := p.fetcher.Fetch(fetchCtx, src.URL)
	if err := p.recordResult(ctx, &src, fetchErr); err != nil {
		return err
	}
	if fetchErr != nil {
		p.failed.Add(1)
		logger.Warn().Err(fetchErr).Int("failures", src.FailuresCount).Str("status", src.Status).Msg("Source fetch failed")
		return nil
	}
	logger.Debug().Int("entries", len(entries)).Msg("Source fetched")

	for _, e := range entries {
		if e.URL == "" {
			logger.Debug().Msg("Skipping entry with empty URL")
			continue
		}
		select {
		case out <- toPost(src, e):
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// recordResult updates the source's failure bookkeeping. A source that keeps
// failing is marked failed and drops out of later runs.
func (p *Pipeline) recordResult(ctx context.Context, src *models.Source, fetchErr error) error {
	now := time.Now().UTC()
	if fetchErr == nil {
		src.Status, src.FailuresCount, src.LastError = "active", 0, sql.NullString{}
	} else if strings.Contains(fetchErr.Error(), "429") {
		src.LastError = sql.NullString{String: "rate limited by source", Valid: true}
	} else {
		src.FailuresCount++
		src.LastError = sql.NullString{String: fetchErr.Error(), Valid: true}
		if src.FailuresCount >= maxSourceFailures {
			src.Status = "failed"
		}
	}

	_, err := p.db.ExecContext(ctx, `
		UPDATE sources
		SET status = ?, failures_count = ?, last_error = ?, last_retrieved_at = ?, updated_at = ?
		WHERE id = ?`,
		src.Status, src.FailuresCount, src.LastError, now, now, src.ID)
	if err != nil {
		return fmt.Errorf("failed to update source %d: %w", src.ID, err)
	}
	return nil
}

func toPost(src models.Source, e Entry) models.Post {
	post := models.NewPost()
	post.ID = uuid.NewString()
	post.URL = e.URL
	post.SourceID = src.ID
	post.Title = e.Headline
	post.Body = e.Content
	post.Subtitle = truncate(e.Content, subtitleLength)
	post.Category = src.Comments.String
	if !e.PublishedAt.IsZero() {
		post.PublishedAt = e.PublishedAt
	}
	return *post
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

// writePosts batches posts from in until it is closed, flushing on size or timeout.
func (p *Pipeline) writePosts(ctx context.Context, in <-chan models.Post) error {
	batch := make([]models.Post, 0, p.batchSize)
	ticker := time.NewTicker(p.batchTimeout)
	defer ticker.Stop()

	var firstErr error
	flush := func() {
		if len(batch) == 0 {
			return
		}
		inserted, dups, err := p.db.InsertPosts(context.WithoutCancel(ctx), batch)
		if err != nil {
			log.Error().Err(err).Int("batch", len(batch)).Msg("Failed to write posts batch")
			if firstErr == nil {
				firstErr = err
			}
		} else {
			p.processed.Add(int64(inserted))
			p.duplicates.Add(int64(dups))
			log.Info().Int("processed", inserted).Int("duplicates", dups).Msg("Batch processed")
		}
		batch = make([]models.Post, 0, p.batchSize)
	}

	for {
		select {
		case post, ok := <-in:
			if !ok {
				flush()
				return firstErr
			}
			batch = append(batch, post)
			if len(batch) >= p.batchSize {
				flush()
				ticker.Reset(p.batchTimeout)
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Stats returns the number of posts inserted and skipped as duplicates so far.
func (p *Pipeline) Stats() (processed, duplicates int64) {
	return p.processed.Load(), p.duplicates.Load()
}

// PurgeOldPosts removes posts ingested more than retentionDays ago.
func (p *Pipeline) PurgeOldPosts(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("retentionDays must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	n, err := p.db.PurgePostsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Info().Time("cutoff", cutoff).Int64("rows_affected", n).Msg("Purged old posts")
	return n, nil
}
