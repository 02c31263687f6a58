package models

import "time"

// Post is a feed entry as served by the posts endpoint and stored in the 'posts' table.
// Only ID is interpreted by the feed controller; everything else is payload.
type Post struct {
	ID          string    `db:"id" json:"uuid"`
	URL         string    `db:"url" json:"link"`
	SourceID    int64     `db:"source_id" json:"-"`
	Title       string    `db:"title" json:"title"`
	Subtitle    string    `db:"subtitle" json:"subtitle"`
	Body        string    `db:"body" json:"infoText"`
	ImageURL    string    `db:"image_url" json:"imageUrl"`
	Author      string    `db:"author" json:"author_name"`
	Category    string    `db:"category" json:"category_name"`
	Likes       int       `db:"likes" json:"likes"`
	Dislikes    int       `db:"dislikes" json:"dislikes"`
	ViewCount   int       `db:"view_count" json:"views"`
	PublishedAt time.Time `db:"published_at" json:"datePublished"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
	UpdatedAt   time.Time `db:"updated_at" json:"-"`
}

// NewPost creates a new Post with default values
func NewPost() *Post {
	now := time.Now()
	return &Post{
		PublishedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Key identifies the post for deduplication and view tracking.
func (p Post) Key() string {
	return p.ID
}
