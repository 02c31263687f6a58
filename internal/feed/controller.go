package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/feedpager/internal/backoff"
)

// DefaultPageFullThreshold is the production page size.
const DefaultPageFullThreshold = 20

// PrefetchFraction is the viewed share of loaded items that triggers FetchMore.
const PrefetchFraction = 0.5

// ErrExhausted wraps the last error of a page whose every fetch attempt failed.
var ErrExhausted = errors.New("feed: page fetch attempts exhausted")

var errStale = errors.New("feed: stale generation")

// Options tune a Controller. Zero values pick the defaults.
type Options[T Item] struct {
	// PageFullThreshold is the page length that implies another page exists.
	PageFullThreshold int
	Retry             backoff.Policy
	Sleep             backoff.SleepFunc
	Logger            *zerolog.Logger

	// OnChange receives a snapshot after every state transition, in the order
	// the transitions happened. It runs on a dispatch goroutine without the
	// controller lock held, so it may call back into the controller.
	OnChange func(Snapshot[T])
}

// Snapshot is a read-only view of the controller for rendering.
type Snapshot[T Item] struct {
	Items        []DisplayItem[T]
	Loading      bool
	HasMore      bool
	Err          error
	Page         int
	CurrentIndex int
	Loaded       int
	Viewed       int

	// Version increases with every state transition.
	Version uint64
}

// Controller owns one feed session. All transitions go through reduce under mu,
// so event handlers are serialized while fetches run in their own goroutines.
type Controller[T Item] struct {
	fetcher PageFetcher[T]
	marker  ViewMarker[T]

	threshold int
	retry     backoff.Policy
	sleep     backoff.SleepFunc
	onChange  func(Snapshot[T])
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State[T]
	version uint64
	closed  bool

	// Snapshots waiting for OnChange, oldest first.
	pending     []Snapshot[T]
	dispatching bool
}

// NewController creates a controller for a fresh session. Nothing is fetched
// until Start or Refresh is called. marker may be nil.
func NewController[T Item](fetcher PageFetcher[T], marker ViewMarker[T], opts Options[T]) *Controller[T] {
	if opts.PageFullThreshold <= 0 {
		opts.PageFullThreshold = DefaultPageFullThreshold
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = backoff.Default
	}
	if opts.Sleep == nil {
		opts.Sleep = backoff.Sleep
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller[T]{
		fetcher:   fetcher,
		marker:    marker,
		threshold: opts.PageFullThreshold,
		retry:     opts.Retry,
		sleep:     opts.Sleep,
		onChange:  opts.OnChange,
		log:       logger.With().Str("component", "feed").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		state:     initialState[T](1),
	}
}

// Start dispatches the fetch for the first page.
func (c *Controller[T]) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.advanceLocked() {
		c.publishLocked()
	}
}

// FetchMore moves to the next page if the current one has been fetched, more
// pages exist, nothing is in flight and no error is pending. Otherwise it does nothing.
func (c *Controller[T]) FetchMore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.fetchMoreLocked() {
		c.publishLocked()
	}
}

// Refresh discards the session state, including a sticky fetch error, and
// fetches page 1 again. Responses still in flight from before are ignored.
func (c *Controller[T]) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.apply(resetEvent{})
	c.log.Debug().Uint64("generation", c.state.Generation).Msg("Feed refreshed")
	c.advanceLocked()
	c.publishLocked()
}

// Update replaces the loaded items with the result of fn, for edits such as
// removing a deleted item or patching a counter. fn receives a copy of the
// loaded items and must not call back into the controller. Duplicate and
// empty keys in the result are dropped, and items no longer present lose
// their viewed mark.
func (c *Controller[T]) Update(fn func(items []T) []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	items := fn(append([]T(nil), c.state.Items...))
	c.apply(itemsReplaced[T]{items: items})
	c.publishLocked()
}

// ReportIndex records that the entry at index of the current display sequence
// is on screen. The first report of a real item fires MarkViewed for it; every
// report may trigger a prefetch once enough loaded items have been seen.
func (c *Controller[T]) ReportIndex(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.reportLocked(index)
	c.publishLocked()
}

// Snapshot returns the current display sequence and flags.
func (c *Controller[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Wait blocks until in-flight fetches, view effects and OnChange deliveries have finished.
func (c *Controller[T]) Wait() {
	c.wg.Wait()
}

// Close ends the session: pending backoff waits and requests are cancelled
// and every later call except Snapshot and Wait does nothing.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Controller[T]) apply(ev event) {
	c.state = reduce(c.state, ev)
}

func (c *Controller[T]) advanceLocked() bool {
	if !c.state.canAdvance() {
		return false
	}
	c.apply(fetchStarted{})

	generation, page := c.state.Generation, c.state.Page
	c.wg.Add(1)
	go c.fetch(generation, page)
	return true
}

func (c *Controller[T]) fetchMoreLocked() bool {
	if !c.state.canFetchMore() {
		return false
	}
	c.apply(pageAdvanced{})
	return c.advanceLocked()
}

func (c *Controller[T]) reportLocked(index int) {
	key := ""
	var item T
	display := c.state.display()
	if index >= 0 && index < len(display) && display[index].Kind == KindItem {
		item = display[index].Item
		key = item.Key()
	}

	first := key != "" && !c.state.viewed(key)
	c.apply(indexReported{index: index, key: key})
	if first {
		c.markViewed(item)
	}

	if c.state.viewedFraction() >= PrefetchFraction && !c.state.Loading && c.state.HasMore {
		if c.fetchMoreLocked() {
			c.log.Debug().
				Int("page", c.state.Page).
				Int("viewed", len(c.state.Viewed)).
				Int("loaded", len(c.state.Items)).
				Msg("Prefetching next page")
		}
	}
}

func (c *Controller[T]) markViewed(item T) {
	if c.marker == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.marker.MarkViewed(c.ctx, item); err != nil {
			c.log.Warn().Err(err).Str("id", item.Key()).Msg("Failed to mark item viewed")
		}
	}()
}

func (c *Controller[T]) fetch(generation uint64, page int) {
	defer c.wg.Done()

	logger := c.log.With().Int("page", page).Uint64("generation", generation).Logger()
	logger.Debug().Msg("Fetching page")

	var items []T
	retrier := backoff.Retrier{
		Policy: c.retry,
		Sleep:  c.sleep,
		Notify: func(attempt int, delay time.Duration, err error) {
			logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("retry_in", delay).
				Msg("Page fetch failed, retrying")
		},
	}
	err := retrier.Do(c.ctx, func(ctx context.Context) error {
		if c.stale(generation) {
			return backoff.Permanent(errStale)
		}
		got, err := c.fetcher.FetchPage(ctx, page)
		if err != nil {
			return err
		}
		items = got
		return nil
	})

	c.mu.Lock()
	if errors.Is(err, errStale) || generation != c.state.Generation {
		c.mu.Unlock()
		logger.Debug().Msg("Discarding page from a previous session")
		return
	}
	if c.closed {
		c.mu.Unlock()
		return
	}

	wasEmpty := len(c.state.Items) == 0
	if err != nil {
		c.apply(fetchFailed{generation: generation, err: fmt.Errorf("%w: page %d: %w", ErrExhausted, page, err)})
		logger.Error().Err(err).Int("attempts", c.retry.Attempts).Msg("Giving up on page")
	} else {
		c.apply(fetchSucceeded[T]{generation: generation, items: items, threshold: c.threshold})
		logger.Debug().
			Int("received", len(items)).
			Int("loaded", len(c.state.Items)).
			Bool("has_more", c.state.HasMore).
			Msg("Page merged")

		// The first item counts as viewed as soon as it is shown.
		if wasEmpty && len(c.state.Items) > 0 {
			c.reportLocked(0)
		}
	}
	c.publishLocked()
	c.mu.Unlock()
}

func (c *Controller[T]) stale(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation != c.state.Generation
}

func (c *Controller[T]) snapshotLocked() Snapshot[T] {
	return Snapshot[T]{
		Items:        c.state.display(),
		Loading:      c.state.Loading,
		HasMore:      c.state.HasMore,
		Err:          c.state.Err,
		Page:         c.state.Page,
		CurrentIndex: c.state.CurrentIndex,
		Loaded:       len(c.state.Items),
		Viewed:       len(c.state.Viewed),
		Version:      c.version,
	}
}

// publishLocked records a transition and queues its snapshot for OnChange.
// Snapshots are queued under mu, so a single dispatcher delivers them in
// transition order.
func (c *Controller[T]) publishLocked() {
	c.version++
	if c.onChange == nil {
		return
	}
	c.pending = append(c.pending, c.snapshotLocked())
	if !c.dispatching {
		c.dispatching = true
		c.wg.Add(1)
		go c.dispatch()
	}
}

func (c *Controller[T]) dispatch() {
	defer c.wg.Done()
	for {
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.dispatching = false
			c.mu.Unlock()
			return
		}
		snap := c.pending[0]
		c.pending = c.pending[1:]
		c.mu.Unlock()

		c.onChange(snap)
	}
}
