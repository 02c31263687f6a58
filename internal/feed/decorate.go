package feed

// AdInterval is the number of real items between ad slots.
const AdInterval = 5

// DecorateOptions carries the pager flags that pick the trailing sentinel.
type DecorateOptions struct {
	Loading bool
	HasMore bool
}

// Decorate builds the display sequence for items: an ad after every
// AdInterval-th item, then a loading sentinel while a fetch is in flight or an
// end-of-feed sentinel once there are no more pages. Loading wins over
// end-of-feed. The result is a fresh slice; markers are never stored.
func Decorate[T Item](items []T, opts DecorateOptions) []DisplayItem[T] {
	out := make([]DisplayItem[T], 0, len(items)+len(items)/AdInterval+1)

	for i, item := range items {
		out = append(out, DisplayItem[T]{Kind: KindItem, Item: item})
		if (i+1)%AdInterval == 0 {
			out = append(out, DisplayItem[T]{Kind: KindAd})
		}
	}

	switch {
	case opts.Loading:
		out = append(out, DisplayItem[T]{Kind: KindLoading})
	case !opts.HasMore:
		out = append(out, DisplayItem[T]{Kind: KindEndOfFeed})
	}
	return out
}
