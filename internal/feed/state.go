package feed

// State is the pager and view state of one feed session. It is only changed
// through reduce, which never mutates the maps or slices of its input.
type State[T Item] struct {
	Items        []T
	Page         int
	FetchedPages map[int]struct{}
	HasMore      bool
	Loading      bool
	Err          error

	// Generation increases on every reset; fetch results carry the
	// generation they were dispatched in and are dropped when it moved on.
	Generation uint64

	Viewed       map[string]struct{}
	CurrentIndex int
}

func initialState[T Item](generation uint64) State[T] {
	return State[T]{
		Page:         1,
		FetchedPages: map[int]struct{}{},
		HasMore:      true,
		Generation:   generation,
		Viewed:       map[string]struct{}{},
	}
}

func (s State[T]) fetched(page int) bool {
	_, ok := s.FetchedPages[page]
	return ok
}

func (s State[T]) viewed(key string) bool {
	_, ok := s.Viewed[key]
	return ok
}

// canAdvance gates dispatching a fetch for the current page.
func (s State[T]) canAdvance() bool {
	return s.HasMore && !s.Loading && s.Err == nil && !s.fetched(s.Page)
}

// canFetchMore gates moving on to the next page.
func (s State[T]) canFetchMore() bool {
	return s.HasMore && !s.Loading && s.Err == nil && s.fetched(s.Page)
}

// viewedFraction is the share of loaded items seen at least once.
func (s State[T]) viewedFraction() float64 {
	if len(s.Items) == 0 {
		return 0
	}
	return float64(len(s.Viewed)) / float64(len(s.Items))
}

func (s State[T]) display() []DisplayItem[T] {
	return Decorate(s.Items, DecorateOptions{Loading: s.Loading, HasMore: s.HasMore})
}

type event interface{ isEvent() }

type resetEvent struct{}

type fetchStarted struct{}

type pageAdvanced struct{}

type fetchSucceeded[T Item] struct {
	generation uint64
	items      []T
	threshold  int
}

type fetchFailed struct {
	generation uint64
	err        error
}

type itemsReplaced[T Item] struct {
	items []T
}

type indexReported struct {
	index int
	key   string // empty when the index is a marker or out of range
}

func (resetEvent) isEvent()        {}
func (fetchStarted) isEvent()      {}
func (pageAdvanced) isEvent()      {}
func (fetchSucceeded[T]) isEvent() {}
func (fetchFailed) isEvent()       {}
func (itemsReplaced[T]) isEvent()  {}
func (indexReported) isEvent()     {}

func reduce[T Item](s State[T], ev event) State[T] {
	switch e := ev.(type) {
	case resetEvent:
		return initialState[T](s.Generation + 1)

	case fetchStarted:
		s.Loading = true
		s.Err = nil
		pages := make(map[int]struct{}, len(s.FetchedPages)+1)
		for p := range s.FetchedPages {
			pages[p] = struct{}{}
		}
		pages[s.Page] = struct{}{}
		s.FetchedPages = pages

	case pageAdvanced:
		s.Page++

	case fetchSucceeded[T]:
		if e.generation != s.Generation {
			return s
		}
		s.Items = Merge(s.Items, e.items)
		s.HasMore = len(e.items) >= e.threshold
		s.Loading = false

	case fetchFailed:
		if e.generation != s.Generation {
			return s
		}
		s.Err = e.err
		s.Loading = false

	case itemsReplaced[T]:
		s.Items = Merge(nil, e.items)
		present := make(map[string]struct{}, len(s.Items))
		for _, item := range s.Items {
			present[item.Key()] = struct{}{}
		}
		viewed := make(map[string]struct{}, len(s.Viewed))
		for k := range s.Viewed {
			if _, ok := present[k]; ok {
				viewed[k] = struct{}{}
			}
		}
		s.Viewed = viewed

	case indexReported:
		s.CurrentIndex = e.index
		if e.key != "" && !s.viewed(e.key) {
			viewed := make(map[string]struct{}, len(s.Viewed)+1)
			for k := range s.Viewed {
				viewed[k] = struct{}{}
			}
			viewed[e.key] = struct{}{}
			s.Viewed = viewed
		}
	}
	return s
}
