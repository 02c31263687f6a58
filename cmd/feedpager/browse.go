package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"reddot-watch/feedpager/internal/api"
	"reddot-watch/feedpager/internal/cache"
	"reddot-watch/feedpager/internal/config"
	"reddot-watch/feedpager/internal/feed"
	"reddot-watch/feedpager/internal/models"
)

// newClient builds the posts API client from cfg. The returned close func
// releases the response cache.
func newClient(cfg *config.Config) (*api.Client, func(), error) {
	opts := []api.Option{
		api.WithTimeout(cfg.RequestTimeout),
		api.WithViewRate(cfg.ViewRate),
		api.WithLogger(log.Logger),
	}
	if cfg.APIKey != "" {
		opts = append(opts, api.WithAPIKey(cfg.APIKey))
	}
	if cfg.Token != "" {
		opts = append(opts, api.WithBearerToken(cfg.Token))
	}

	closeFn := func() {}
	if cfg.CacheTime > 0 {
		var store cache.Store
		if cfg.CacheDBPath != "" {
			sqliteStore, err := cache.OpenSQLite(cfg.CacheDBPath)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to open response cache: %w", err)
			}
			if n, err := sqliteStore.Purge(context.Background()); err != nil {
				log.Warn().Err(err).Msg("Failed to purge expired cache entries")
			} else if n > 0 {
				log.Debug().Int64("purged", n).Msg("Purged expired cache entries")
			}
			store, closeFn = sqliteStore, func() { sqliteStore.Close() }
		} else {
			store = cache.NewMemory()
		}
		opts = append(opts, api.WithCache(store, cfg.CacheTime))
	}

	client, err := api.NewClient(cfg.APIBaseURL, opts...)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return client, closeFn, nil
}

// browser steps through a feed session one display entry at a time.
type browser struct {
	ctrl   *feed.Controller[models.Post]
	out    io.Writer
	cursor int
}

// runBrowse reads commands from in until 'q' or EOF: Enter or 'n' moves to the
// next entry, 'p' to the previous one, 'r' refreshes the feed.
func runBrowse(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	client, closeClient, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer closeClient()

	ctrl := feed.NewController[models.Post](client, client, feed.Options[models.Post]{
		PageFullThreshold: cfg.PageFullThreshold(),
	})
	defer ctrl.Close()

	log.Info().
		Str("api", cfg.APIBaseURL).
		Int("page_full_threshold", cfg.PageFullThreshold()).
		Msg("Starting feed session")

	b := &browser{ctrl: ctrl, out: out}
	ctrl.Start()
	ctrl.Wait()
	b.render()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if !b.handle(strings.TrimSpace(strings.ToLower(line))) {
				return nil
			}
		}
	}
}

// handle applies one command and reports whether the session continues.
func (b *browser) handle(cmd string) bool {
	switch cmd {
	case "", "n":
		b.move(1)
	case "p":
		b.move(-1)
	case "r":
		b.cursor = 0
		b.ctrl.Refresh()
		b.ctrl.Wait()
	case "q":
		return false
	default:
		fmt.Fprintf(b.out, "unknown command %q (Enter/n next, p previous, r refresh, q quit)\n", cmd)
		return true
	}
	b.render()
	return true
}

func (b *browser) move(delta int) {
	snap := b.ctrl.Snapshot()
	next := b.cursor + delta
	if next < 0 || next >= len(snap.Items) {
		return
	}
	b.cursor = next
	b.ctrl.ReportIndex(next)
	b.ctrl.Wait()
}

func (b *browser) render() {
	snap := b.ctrl.Snapshot()
	if snap.Err != nil {
		fmt.Fprintf(b.out, "error: %v (r to retry)\n", snap.Err)
	}
	if len(snap.Items) == 0 {
		if snap.Loading {
			fmt.Fprintln(b.out, "loading...")
		} else {
			fmt.Fprintln(b.out, "no posts")
		}
		return
	}
	if b.cursor >= len(snap.Items) {
		b.cursor = len(snap.Items) - 1
	}

	entry := snap.Items[b.cursor]
	prefix := fmt.Sprintf("[%d/%d]", b.cursor+1, len(snap.Items))
	switch entry.Kind {
	case feed.KindItem:
		fmt.Fprintf(b.out, "%s %s\n", prefix, entry.Item.Title)
		if entry.Item.Subtitle != "" {
			fmt.Fprintf(b.out, "    %s\n", entry.Item.Subtitle)
		}
		fmt.Fprintf(b.out, "    %s\n", entry.Item.URL)
	case feed.KindAd:
		fmt.Fprintf(b.out, "%s (sponsored)\n", prefix)
	case feed.KindLoading:
		fmt.Fprintf(b.out, "%s loading more...\n", prefix)
	case feed.KindEndOfFeed:
		fmt.Fprintf(b.out, "%s end of feed (%d posts, %d viewed)\n", prefix, snap.Loaded, snap.Viewed)
	}
}
