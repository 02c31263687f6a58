package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/feedpager/internal/models"
)

// InsertPosts writes posts in one transaction. Posts whose URL already exists
// are skipped and counted as duplicates.
func (db *DB) InsertPosts(ctx context.Context, posts []models.Post) (inserted, duplicates int, err error) {
	if len(posts) == 0 {
		return 0, 0, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO posts (id, url, source_id, title, subtitle, body, image_url, author, category, published_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO NOTHING;`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range posts {
		res, err := stmt.ExecContext(ctx,
			p.ID, p.URL, p.SourceID, p.Title, p.Subtitle, p.Body, p.ImageURL,
			p.Author, p.Category, p.PublishedAt.UTC(), now, now,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to insert post %s: %w", p.URL, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get rows affected for %s: %w", p.URL, err)
		}
		if n > 0 {
			inserted++
		} else {
			duplicates++
			log.Debug().Str("url", p.URL).Msg("Duplicate URL detected")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return inserted, duplicates, nil
}

// PurgePostsBefore deletes posts created before cutoff.
func (db *DB) PurgePostsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM posts WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge posts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected after purge: %w", err)
	}
	return n, nil
}
