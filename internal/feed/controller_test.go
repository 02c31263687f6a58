package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/feedpager/internal/backoff"
)

// pageServer is a scripted PageFetcher.
type pageServer struct {
	mu      sync.Mutex
	calls   []int
	respond func(call, page int) ([]post, error)
}

func (s *pageServer) FetchPage(_ context.Context, page int) ([]post, error) {
	s.mu.Lock()
	s.calls = append(s.calls, page)
	call := len(s.calls)
	s.mu.Unlock()
	return s.respond(call, page)
}

func (s *pageServer) Calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.calls...)
}

// viewRecorder counts MarkViewed calls per key.
type viewRecorder struct {
	mu    sync.Mutex
	marks map[string]int
	err   error
}

func (v *viewRecorder) MarkViewed(_ context.Context, item post) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.marks == nil {
		v.marks = map[string]int{}
	}
	v.marks[item.id]++
	return v.err
}

func (v *viewRecorder) Count(id string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.marks[id]
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return nil
}

func newTestController(t *testing.T, srv *pageServer, views *viewRecorder, threshold int, sleep backoff.SleepFunc) *Controller[post] {
	t.Helper()
	nop := zerolog.Nop()
	if sleep == nil {
		sleep = func(context.Context, time.Duration) error { return nil }
	}
	var marker ViewMarker[post]
	if views != nil {
		marker = views
	}
	c := NewController[post](srv, marker, Options[post]{
		PageFullThreshold: threshold,
		Sleep:             sleep,
		Logger:            &nop,
	})
	t.Cleanup(c.Close)
	return c
}

func displayKinds(s Snapshot[post]) []Kind {
	return kinds(s.Items)
}

func TestControllerEmptyFeed(t *testing.T) {
	srv := &pageServer{respond: func(int, int) ([]post, error) { return nil, nil }}
	c := newTestController(t, srv, nil, 5, nil)

	c.Start()
	c.Wait()

	snap := c.Snapshot()
	assert.False(t, snap.HasMore)
	assert.False(t, snap.Loading)
	assert.Equal(t, 0, snap.Loaded)
	assert.Equal(t, []Kind{KindEndOfFeed}, displayKinds(snap))
	assert.Equal(t, []int{1}, srv.Calls())
}

func TestControllerLoadingSentinelWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := &pageServer{respond: func(int, int) ([]post, error) {
		<-release
		return numbered(0, 2), nil
	}}
	c := newTestController(t, srv, nil, 5, nil)

	c.Start()
	snap := c.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, []Kind{KindLoading}, displayKinds(snap))

	close(release)
	c.Wait()
	assert.Equal(t, []Kind{KindItem, KindItem, KindEndOfFeed}, displayKinds(c.Snapshot()))
}

func TestControllerExactThresholdPage(t *testing.T) {
	srv := &pageServer{respond: func(_ int, page int) ([]post, error) {
		if page == 1 {
			return numbered(0, 5), nil
		}
		return numbered(100, 1), nil
	}}
	c := newTestController(t, srv, nil, 5, nil)

	c.Start()
	c.Wait()
	snap := c.Snapshot()
	require.True(t, snap.HasMore)
	assert.Equal(t, 1, snap.Page)

	c.FetchMore()
	c.Wait()

	assert.Equal(t, []int{1, 2}, srv.Calls())
	snap = c.Snapshot()
	assert.Equal(t, 2, snap.Page)
	assert.False(t, snap.HasMore)
	assert.Equal(t, 6, snap.Loaded)
}

func TestControllerSingleFetchInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := &pageServer{respond: func(_ int, page int) ([]post, error) {
		if page == 2 {
			<-release
		}
		return numbered(page*10, 5), nil
	}}
	c := newTestController(t, srv, nil, 5, nil)

	// Nothing fetched yet for page 1, so FetchMore cannot skip ahead.
	c.FetchMore()
	c.Start()
	c.Start()
	c.Wait()

	c.FetchMore()
	c.FetchMore()
	snap := c.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, 2, snap.Page)

	close(release)
	c.Wait()

	assert.Equal(t, []int{1, 2}, srv.Calls())
	assert.Equal(t, 10, c.Snapshot().Loaded)
}

func TestControllerBackoffSchedule(t *testing.T) {
	boom := errors.New("connection refused")
	srv := &pageServer{respond: func(int, int) ([]post, error) { return nil, boom }}
	sleeps := &sleepRecorder{}
	c := newTestController(t, srv, nil, 5, sleeps.Sleep)

	c.Start()
	c.Wait()

	assert.Equal(t, []int{1, 1, 1}, srv.Calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)

	snap := c.Snapshot()
	assert.False(t, snap.Loading)
	require.Error(t, snap.Err)
	assert.ErrorIs(t, snap.Err, ErrExhausted)
	assert.ErrorIs(t, snap.Err, boom)

	// The error is a gate: nothing fetches again until a refresh.
	c.Start()
	c.FetchMore()
	c.ReportIndex(0)
	c.Wait()
	assert.Len(t, srv.Calls(), 3)

	c.Refresh()
	c.Wait()
	assert.Len(t, srv.Calls(), 6)
}

func TestControllerRetryRecovers(t *testing.T) {
	srv := &pageServer{respond: func(call, _ int) ([]post, error) {
		if call < 3 {
			return nil, errors.New("503")
		}
		return numbered(0, 3), nil
	}}
	sleeps := &sleepRecorder{}
	c := newTestController(t, srv, nil, 5, sleeps.Sleep)

	c.Start()
	c.Wait()

	snap := c.Snapshot()
	assert.NoError(t, snap.Err)
	assert.Equal(t, 3, snap.Loaded)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestControllerViewOnce(t *testing.T) {
	srv := &pageServer{respond: func(int, int) ([]post, error) { return numbered(0, 10), nil }}
	views := &viewRecorder{}
	c := newTestController(t, srv, views, 20, nil)

	c.Start()
	c.Wait()
	assert.Equal(t, 1, views.Count("p0"), "first item is viewed without interaction")

	for i := 0; i < 3; i++ {
		c.ReportIndex(1)
		c.ReportIndex(0)
	}
	c.ReportIndex(AdInterval) // ad slot
	c.ReportIndex(-1)
	c.ReportIndex(1000)
	c.Wait()

	assert.Equal(t, 1, views.Count("p0"))
	assert.Equal(t, 1, views.Count("p1"))
	assert.Equal(t, 2, c.Snapshot().Viewed)
	assert.Equal(t, 1000, c.Snapshot().CurrentIndex)
}

func TestControllerMarkViewedFailureKeepsItemViewed(t *testing.T) {
	srv := &pageServer{respond: func(int, int) ([]post, error) { return numbered(0, 3), nil }}
	views := &viewRecorder{err: errors.New("500")}
	c := newTestController(t, srv, views, 20, nil)

	c.Start()
	c.Wait()
	c.ReportIndex(0)
	c.ReportIndex(1)
	c.Wait()

	assert.Equal(t, 1, views.Count("p0"))
	assert.Equal(t, 1, views.Count("p1"))
	assert.Equal(t, 2, c.Snapshot().Viewed)
}

func TestControllerPrefetchTrigger(t *testing.T) {
	release := make(chan struct{})
	srv := &pageServer{respond: func(_ int, page int) ([]post, error) {
		if page == 2 {
			<-release
		}
		return numbered((page-1)*10, 10), nil
	}}
	c := newTestController(t, srv, &viewRecorder{}, 10, nil)

	c.Start()
	c.Wait()
	require.Equal(t, 1, c.Snapshot().Viewed)

	for i := 1; i <= 3; i++ {
		c.ReportIndex(i)
	}
	snap := c.Snapshot()
	assert.Equal(t, 4, snap.Viewed)
	assert.False(t, snap.Loading)
	assert.Equal(t, 1, snap.Page)

	c.ReportIndex(4) // 5 of 10 viewed
	snap = c.Snapshot()
	assert.True(t, snap.Loading)
	assert.Equal(t, 2, snap.Page)

	c.ReportIndex(6) // p5, behind the ad slot
	c.ReportIndex(4)
	assert.Equal(t, 2, c.Snapshot().Page)

	close(release)
	c.Wait()

	assert.Equal(t, []int{1, 2}, srv.Calls())
	snap = c.Snapshot()
	assert.Equal(t, 20, snap.Loaded)
	assert.Equal(t, 6, snap.Viewed)
	assert.Equal(t, 2, snap.Page)
}

func TestControllerRefreshResets(t *testing.T) {
	srv := &pageServer{respond: func(_ int, page int) ([]post, error) { return numbered(0, 4), nil }}
	views := &viewRecorder{}
	c := newTestController(t, srv, views, 20, nil)

	c.Start()
	c.Wait()
	c.ReportIndex(1)
	c.Wait()
	require.Equal(t, 2, c.Snapshot().Viewed)

	block := make(chan struct{})
	srv.mu.Lock()
	srv.respond = func(int, int) ([]post, error) {
		<-block
		return numbered(0, 4), nil
	}
	srv.mu.Unlock()

	c.Refresh()
	snap := c.Snapshot()
	assert.Equal(t, 1, snap.Page)
	assert.Equal(t, 0, snap.Loaded)
	assert.Equal(t, 0, snap.Viewed)
	assert.True(t, snap.Loading)
	assert.NoError(t, snap.Err)

	close(block)
	c.Wait()

	assert.Equal(t, 2, views.Count("p0"))
	assert.Equal(t, 1, views.Count("p1"))
	assert.Equal(t, 4, c.Snapshot().Loaded)
}

func TestControllerDiscardsStaleResponse(t *testing.T) {
	release := make(chan struct{})
	srv := &pageServer{respond: func(call, _ int) ([]post, error) {
		if call == 1 {
			<-release
			return posts("stale-1", "stale-2"), nil
		}
		return posts("fresh-1"), nil
	}}
	c := newTestController(t, srv, nil, 5, nil)

	c.Start()
	c.Refresh()
	require.Eventually(t, func() bool { return c.Snapshot().Loaded == 1 }, time.Second, time.Millisecond)

	close(release)
	c.Wait()

	snap := c.Snapshot()
	require.Equal(t, 1, snap.Loaded)
	assert.Equal(t, "fresh-1", snap.Items[0].Item.id)
	assert.False(t, snap.Loading)
}

func TestControllerStaleRetriesStop(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	srv := &pageServer{respond: func(call, _ int) ([]post, error) {
		calls.Add(1)
		if call == 1 {
			return nil, errors.New("first attempt fails")
		}
		return posts("fresh"), nil
	}}

	var once sync.Once
	sleep := func(context.Context, time.Duration) error {
		once.Do(func() { <-gate })
		return nil
	}
	c := newTestController(t, srv, nil, 5, sleep)

	c.Start()
	// The first fetch is now backing off; a refresh makes it stale.
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	c.Refresh()
	require.Eventually(t, func() bool { return c.Snapshot().Loaded == 1 }, time.Second, time.Millisecond)

	close(gate)
	c.Wait()

	assert.Equal(t, int32(2), calls.Load())
	assert.NoError(t, c.Snapshot().Err)
}

func TestControllerOnChange(t *testing.T) {
	srv := &pageServer{respond: func(int, int) ([]post, error) { return numbered(0, 2), nil }}
	nop := zerolog.Nop()

	var mu sync.Mutex
	var seen []Snapshot[post]
	c := NewController[post](srv, nil, Options[post]{
		PageFullThreshold: 5,
		Logger:            &nop,
		OnChange: func(s Snapshot[post]) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})
	defer c.Close()

	c.Start()
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
	assert.Equal(t, 2, seen[1].Loaded)
}

func TestControllerCloseCancelsBackoff(t *testing.T) {
	srv := &pageServer{respond: func(int, int) ([]post, error) { return nil, errors.New("down") }}
	nop := zerolog.Nop()
	c := NewController[post](srv, nil, Options[post]{
		Retry:  backoff.Policy{Attempts: 3, Initial: time.Hour, Factor: 2},
		Logger: &nop,
	})

	c.Start()
	require.Eventually(t, func() bool { return len(srv.Calls()) == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not interrupt the backoff wait")
	}
	assert.Equal(t, []int{1}, srv.Calls())
}

func TestControllerUpdateEditsLoadedItems(t *testing.T) {
	srv := &pageServer{respond: func(int, int) ([]post, error) { return numbered(0, 4), nil }}
	c := newTestController(t, srv, &viewRecorder{}, 20, nil)

	c.Start()
	c.Wait()
	c.ReportIndex(1)
	c.Wait()
	require.Equal(t, 2, c.Snapshot().Viewed)

	c.Update(func(items []post) []post {
		out := items[:0]
		for _, it := range items {
			switch it.id {
			case "p0":
				continue
			case "p2":
				it.title = "edited"
			}
			out = append(out, it)
		}
		return append(out, post{id: "p3"}, post{id: ""})
	})

	snap := c.Snapshot()
	assert.Equal(t, 3, snap.Loaded)
	assert.Equal(t, 1, snap.Viewed, "deleted item loses its viewed mark")
	assert.Equal(t, "p1", snap.Items[0].Item.id)
	assert.Equal(t, "edited", snap.Items[1].Item.title)
	assert.Equal(t, []Kind{KindItem, KindItem, KindItem, KindEndOfFeed}, displayKinds(snap))
	assert.Equal(t, []int{1}, srv.Calls())
}

func TestControllerOnChangeKeepsTransitionOrder(t *testing.T) {
	block := make(chan struct{})
	srv := &pageServer{respond: func(call, _ int) ([]post, error) {
		if call == 1 {
			return numbered(0, 3), nil
		}
		<-block
		return numbered(10, 1), nil
	}}
	nop := zerolog.Nop()

	held := make(chan struct{})
	hold := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var seen []Snapshot[post]
	c := NewController[post](srv, nil, Options[post]{
		PageFullThreshold: 5,
		Logger:            &nop,
		OnChange: func(s Snapshot[post]) {
			if s.Loaded == 3 {
				once.Do(func() {
					close(held)
					<-hold
				})
			}
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})
	defer c.Close()

	c.Start()
	<-held
	// The page-1 delivery is stuck in OnChange while the session resets.
	c.Refresh()
	close(hold)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	last := seen[len(seen)-1]
	mu.Unlock()
	assert.True(t, last.Loading)
	assert.Equal(t, 0, last.Loaded)

	close(block)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 4)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Version, seen[i-1].Version)
	}
	assert.Equal(t, 1, seen[3].Loaded)
	assert.False(t, seen[3].Loading)
}

func TestControllerIgnoresCallsAfterClose(t *testing.T) {
	srv := &pageServer{respond: func(int, int) ([]post, error) { return numbered(0, 5), nil }}
	views := &viewRecorder{}
	c := newTestController(t, srv, views, 5, nil)

	c.Start()
	c.Wait()
	c.Close()
	before := c.Snapshot()

	c.Refresh()
	c.FetchMore()
	c.ReportIndex(2)
	c.Update(func([]post) []post { return nil })
	c.Start()
	c.Wait()

	assert.Equal(t, before, c.Snapshot())
	assert.False(t, c.Snapshot().Loading)
	assert.Equal(t, []int{1}, srv.Calls())
	assert.Equal(t, 0, views.Count("p2"))
}
