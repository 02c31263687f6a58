// Package feed implements the incremental feed-loading and view-state engine:
// a paginated controller that merges pages of items, decorates them with
// synthetic ad/loading/end-of-feed markers, retries failed page fetches and
// tracks which items the user has seen.
package feed

import "context"

// Item is a backend record the controller can page through.
// Key must be stable and unique; items with an empty key are dropped.
type Item interface {
	Key() string
}

// Kind discriminates display entries.
type Kind int

const (
	KindItem Kind = iota
	KindAd
	KindEndOfFeed
	KindLoading
)

func (k Kind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindAd:
		return "ad"
	case KindEndOfFeed:
		return "endOfFeed"
	case KindLoading:
		return "loading"
	default:
		return "unknown"
	}
}

// DisplayItem is one entry of the rendered sequence. Item is only set for KindItem.
type DisplayItem[T Item] struct {
	Kind Kind
	Item T
}

// Synthetic reports whether the entry is a marker rather than a backend record.
func (d DisplayItem[T]) Synthetic() bool {
	return d.Kind != KindItem
}

// PageFetcher loads one page of items. Pages are 1-based.
type PageFetcher[T Item] interface {
	FetchPage(ctx context.Context, page int) ([]T, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[T Item] func(ctx context.Context, page int) ([]T, error)

func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, page int) ([]T, error) {
	return f(ctx, page)
}

// ViewMarker receives the best-effort "item viewed" side effect.
type ViewMarker[T Item] interface {
	MarkViewed(ctx context.Context, item T) error
}

// ViewMarkerFunc adapts a function to ViewMarker.
type ViewMarkerFunc[T Item] func(ctx context.Context, item T) error

func (f ViewMarkerFunc[T]) MarkViewed(ctx context.Context, item T) error {
	return f(ctx, item)
}
