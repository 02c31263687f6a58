package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reddot-watch/feedpager/internal/database"
	"reddot-watch/feedpager/internal/models"
)

// ErrNotFound is returned when a post id does not exist.
var ErrNotFound = errors.New("post not found")

// PostRepository defines operations for accessing posts.
type PostRepository interface {
	FetchPosts(ctx context.Context, limit, offset int) ([]models.Post, error)
	MarkViewed(ctx context.Context, id string) error
}

// sqlxRepository implements PostRepository using sqlx.
type sqlxRepository struct {
	db *database.DB
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB) PostRepository {
	return &sqlxRepository{db: db}
}

// FetchPosts returns one page of posts, newest first. The id tiebreak keeps
// page boundaries stable between requests.
func (r *sqlxRepository) FetchPosts(ctx context.Context, limit, offset int) ([]models.Post, error) {
	posts := []models.Post{}
	err := r.db.SelectContext(ctx, &posts, `
		SELECT * FROM posts
		ORDER BY published_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return posts, nil
}

// MarkViewed increments the view counter of a post.
func (r *sqlxRepository) MarkViewed(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE posts SET view_count = view_count + 1, updated_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("database update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
