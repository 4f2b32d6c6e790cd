package feed

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	rows      []domain.Notification
	fetches   int
	fetchErr  error
	gate      chan struct{}
	handler   func(domain.Event)
	cancelled bool
	// rows flipped to read by the last mark call
	flipped []domain.Notification
}

func newFakeSource(n int) *fakeSource {
	s := &fakeSource{}
	for i := 1; i <= n; i++ {
		s.rows = append(s.rows, domain.Notification{
			ID:        snowflake.ID(i),
			UserID:    1,
			Type:      domain.TypeOther,
			Title:     "n",
			CreatedAt: baseTime.Add(time.Duration(i) * time.Minute),
		})
	}
	return s
}

func (s *fakeSource) FetchPage(ctx context.Context, limit int, before *time.Time) ([]domain.Notification, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	sorted := append([]domain.Notification(nil), s.rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	out := []domain.Notification{}
	for _, n := range sorted {
		if before != nil && !n.CreatedAt.Before(*before) {
			continue
		}
		out = append(out, n)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeSource) UnreadCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, n := range s.rows {
		if n.ReadAt == nil {
			count++
		}
	}
	return count, nil
}

func (s *fakeSource) MarkAllRead(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	s.flipped = nil
	for i := range s.rows {
		if s.rows[i].ReadAt == nil {
			at := baseTime
			s.rows[i].ReadAt = &at
			s.flipped = append(s.flipped, s.rows[i])
			affected++
		}
	}
	return affected, nil
}

func (s *fakeSource) MarkRead(ctx context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var affected int64
	s.flipped = nil
	for _, raw := range ids {
		for i := range s.rows {
			if s.rows[i].ID.String() == raw && s.rows[i].ReadAt == nil {
				at := baseTime
				s.rows[i].ReadAt = &at
				s.flipped = append(s.flipped, s.rows[i])
				affected++
			}
		}
	}
	return affected, nil
}

func (s *fakeSource) Subscribe(ctx context.Context, handler func(domain.Event)) (func(), error) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.cancelled = true
		s.handler = nil
		s.mu.Unlock()
	}, nil
}

func (s *fakeSource) takeFlipped() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.flipped
	s.flipped = nil
	return out
}

func (s *fakeSource) add(n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, n)
}

// echoSource pushes the read updates into the feed before the mark call returns, the way the
// server publishes before it writes the response. The first holdBack echoes are kept for later.
type echoSource struct {
	*fakeSource
	feed     *Feed
	holdBack int
	failWith error
	late     []domain.Event
}

func (s *echoSource) MarkRead(ctx context.Context, ids []string) (int64, error) {
	affected, err := s.fakeSource.MarkRead(ctx, ids)
	s.echo()
	if s.failWith != nil {
		return 0, s.failWith
	}
	return affected, err
}

func (s *echoSource) MarkAllRead(ctx context.Context) (int64, error) {
	affected, err := s.fakeSource.MarkAllRead(ctx)
	s.echo()
	if s.failWith != nil {
		return 0, s.failWith
	}
	return affected, err
}

func (s *echoSource) echo() {
	for i, n := range s.takeFlipped() {
		event := domain.Event{Kind: domain.EventUpdate, Notification: n}
		if i < s.holdBack {
			s.late = append(s.late, event)
			continue
		}
		s.feed.Apply(event)
	}
}

func (s *echoSource) deliverLate() {
	for _, event := range s.late {
		s.feed.Apply(event)
	}
	s.late = nil
}

func (s *fakeSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func TestScenarioTwentyFiveUnreadPagesOfTwenty(t *testing.T) {
	src := newFakeSource(25)
	f := New(src, WithPageSize(20))
	ctx := context.Background()

	require.NoError(t, f.Bootstrap(ctx))
	snap := f.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Len(t, snap.Items, 20)
	assert.False(t, snap.End)
	assert.Equal(t, int64(25), snap.Unread)
	assert.Equal(t, snowflake.ID(25), snap.Items[0].ID)

	added, err := f.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	snap = f.Snapshot()
	assert.Len(t, snap.Items, 25)
	assert.True(t, snap.End)
	assert.Equal(t, snowflake.ID(1), snap.Items[24].ID)

	added, err = f.LoadMore(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 2, src.Fetches())
}

func TestPaginationTerminatesOnExactMultiple(t *testing.T) {
	src := newFakeSource(40)
	f := New(src, WithPageSize(20))
	ctx := context.Background()

	require.NoError(t, f.Bootstrap(ctx))
	for i := 0; i < 10 && !f.Snapshot().End; i++ {
		_, err := f.LoadMore(ctx)
		require.NoError(t, err)
	}
	snap := f.Snapshot()
	assert.True(t, snap.End)
	assert.Len(t, snap.Items, 40)
	assert.Equal(t, 3, src.Fetches())

	_, err := f.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Fetches())
}

func TestBootstrapReusesCache(t *testing.T) {
	src := newFakeSource(3)
	f := New(src)
	require.NoError(t, f.Bootstrap(context.Background()))
	require.NoError(t, f.Bootstrap(context.Background()))
	assert.Equal(t, 1, src.Fetches())

	f.Reset()
	assert.Equal(t, StateIdle, f.Snapshot().State)
	require.NoError(t, f.Bootstrap(context.Background()))
	assert.Equal(t, 2, src.Fetches())
}

func TestBootstrapEmpty(t *testing.T) {
	f := New(newFakeSource(0))
	require.NoError(t, f.Bootstrap(context.Background()))
	snap := f.Snapshot()
	assert.Equal(t, StateEmpty, snap.State)
	assert.True(t, snap.End)
}

func TestFetchFailureIsAnErrorNotTheEnd(t *testing.T) {
	src := newFakeSource(30)
	f := New(src, WithPageSize(20))
	ctx := context.Background()
	require.NoError(t, f.Bootstrap(ctx))

	boom := errors.New("network down")
	src.mu.Lock()
	src.fetchErr = boom
	src.mu.Unlock()

	_, err := f.LoadMore(ctx)
	require.ErrorIs(t, err, boom)
	snap := f.Snapshot()
	assert.Equal(t, StateError, snap.State)
	assert.ErrorIs(t, snap.Err, boom)
	assert.False(t, snap.End)
	assert.Len(t, snap.Items, 20)

	src.mu.Lock()
	src.fetchErr = nil
	src.mu.Unlock()

	added, err := f.LoadMore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, added)
	snap = f.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.True(t, snap.End)
}

func TestBootstrapFailureSetsErrorState(t *testing.T) {
	src := newFakeSource(3)
	src.fetchErr = errors.New("unavailable")
	f := New(src)

	require.Error(t, f.Bootstrap(context.Background()))
	assert.Equal(t, StateError, f.Snapshot().State)

	src.fetchErr = nil
	require.NoError(t, f.Bootstrap(context.Background()))
	assert.Equal(t, StateReady, f.Snapshot().State)
}

func TestLoadMoreSingleFlight(t *testing.T) {
	src := newFakeSource(45)
	f := New(src, WithPageSize(20))
	ctx := context.Background()
	require.NoError(t, f.Bootstrap(ctx))

	src.gate = make(chan struct{})
	first := make(chan int, 1)
	go func() {
		n, err := f.LoadMore(ctx)
		assert.NoError(t, err)
		first <- n
	}()

	require.Eventually(t, func() bool { return f.Snapshot().State == StateLoadingMore }, time.Second, time.Millisecond)
	for i := 0; i < 4; i++ {
		n, err := f.LoadMore(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	close(src.gate)

	assert.Equal(t, 20, <-first)
	assert.Equal(t, 2, src.Fetches())
}

func TestPushEventsMoveCounter(t *testing.T) {
	src := newFakeSource(2)
	f := New(src)
	require.NoError(t, f.Bootstrap(context.Background()))
	require.Equal(t, int64(2), f.Unread())

	fresh := domain.Notification{ID: 100, UserID: 1, Type: domain.TypeInvoiceCreated, Title: "Invoice", CreatedAt: baseTime.Add(time.Hour)}
	f.Apply(domain.Event{Kind: domain.EventInsert, Notification: fresh})
	f.Apply(domain.Event{Kind: domain.EventInsert, Notification: fresh})
	snap := f.Snapshot()
	assert.Equal(t, int64(3), snap.Unread)
	assert.Equal(t, snowflake.ID(100), snap.Items[0].ID)
	assert.Len(t, snap.Items, 3)

	readAt := baseTime.Add(2 * time.Hour)
	read := fresh
	read.ReadAt = &readAt
	f.Apply(domain.Event{Kind: domain.EventUpdate, Notification: read})
	f.Apply(domain.Event{Kind: domain.EventUpdate, Notification: read})
	assert.Equal(t, int64(2), f.Unread())
	assert.NotNil(t, f.Snapshot().Items[0].ReadAt)
}

func TestMarkAllReadZeroesCounterAndCache(t *testing.T) {
	src := newFakeSource(7)
	bus := NewResyncBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	f := New(src, WithResyncBus(bus))
	require.NoError(t, f.Bootstrap(context.Background()))
	require.Equal(t, int64(7), f.Unread())

	affected, err := f.MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), affected)

	snap := f.Snapshot()
	assert.Zero(t, snap.Unread)
	for _, item := range snap.Items {
		assert.NotNil(t, item.ReadAt)
	}

	select {
	case <-signals:
	default:
		t.Fatal("expected resync signal")
	}

	// Echoed updates for rows already read locally do not move the counter.
	for _, item := range snap.Items {
		f.Apply(domain.Event{Kind: domain.EventUpdate, Notification: item})
	}
	assert.Zero(t, f.Unread())
}

func TestMarkReadSubtractsAffectedOnce(t *testing.T) {
	src := newFakeSource(5)
	f := New(src)
	require.NoError(t, f.Bootstrap(context.Background()))

	affected, err := f.MarkRead(context.Background(), []string{"5", "4"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)
	assert.Equal(t, int64(3), f.Unread())

	readAt := baseTime
	for _, id := range []snowflake.ID{5, 4} {
		f.Apply(domain.Event{Kind: domain.EventUpdate, Notification: domain.Notification{ID: id, UserID: 1, ReadAt: &readAt}})
	}
	assert.Equal(t, int64(3), f.Unread())
}

func TestUnreadCounterNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 50; round++ {
		src := newFakeSource(rng.Intn(10))
		f := New(src, WithPageSize(5))
		ctx := context.Background()
		require.NoError(t, f.Bootstrap(ctx))

		nextID := snowflake.ID(1000)
		for step := 0; step < 60; step++ {
			readAt := baseTime
			switch rng.Intn(5) {
			case 0:
				nextID++
				f.Apply(domain.Event{Kind: domain.EventInsert, Notification: domain.Notification{ID: nextID, UserID: 1, CreatedAt: baseTime.Add(time.Duration(nextID) * time.Second)}})
			case 1:
				id := snowflake.ID(rng.Intn(int(nextID)) + 1)
				f.Apply(domain.Event{Kind: domain.EventUpdate, Notification: domain.Notification{ID: id, UserID: 1, ReadAt: &readAt}})
			case 2:
				_, err := f.MarkAllRead(ctx)
				require.NoError(t, err)
			case 3:
				_, err := f.MarkRead(ctx, []string{snowflake.ID(rng.Intn(12) + 1).String()})
				require.NoError(t, err)
			case 4:
				_, err := f.LoadMore(ctx)
				require.NoError(t, err)
			}
			require.GreaterOrEqual(t, f.Unread(), int64(0))
		}
	}
}

func TestWatchAppliesUntilCancelled(t *testing.T) {
	src := newFakeSource(0)
	f := New(src)
	require.NoError(t, f.Bootstrap(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.handler != nil
	}, time.Second, time.Millisecond)

	src.mu.Lock()
	handler := src.handler
	src.mu.Unlock()
	handler(domain.Event{Kind: domain.EventInsert, Notification: domain.Notification{ID: 1, UserID: 1, CreatedAt: baseTime}})
	assert.Equal(t, int64(1), f.Unread())
	assert.Equal(t, StateReady, f.Snapshot().State)

	cancel()
	require.NoError(t, <-done)
	src.mu.Lock()
	assert.True(t, src.cancelled)
	src.mu.Unlock()
}

func TestBadgeRefreshesOnResync(t *testing.T) {
	src := newFakeSource(4)
	bus := NewResyncBus()
	badge := NewBadge(src, bus, nil)
	f := New(src, WithResyncBus(bus))
	require.NoError(t, f.Bootstrap(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan int64, 4)
	go func() { _ = badge.Run(ctx, func(n int64) { updates <- n }) }()

	assert.Equal(t, int64(4), <-updates)

	_, err := f.MarkRead(context.Background(), []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), <-updates)
	assert.Equal(t, int64(3), badge.Count())
}

func TestMarkReadEchoBeforeResponseCountsOnce(t *testing.T) {
	src := &echoSource{fakeSource: newFakeSource(5)}
	f := New(src)
	src.feed = f
	ctx := context.Background()
	require.NoError(t, f.Bootstrap(ctx))

	affected, err := f.MarkRead(ctx, []string{"5"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	server, err := src.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), server)
	assert.Equal(t, server, f.Unread())
	assert.NotNil(t, f.Snapshot().Items[0].ReadAt)

	// A redelivered echo does not move the counter either.
	readAt := baseTime
	f.Apply(domain.Event{Kind: domain.EventUpdate, Notification: domain.Notification{ID: 5, UserID: 1, ReadAt: &readAt}})
	assert.Equal(t, int64(4), f.Unread())
}

func TestMarkReadEchoOutsideCache(t *testing.T) {
	src := &echoSource{fakeSource: newFakeSource(6)}
	f := New(src, WithPageSize(2))
	src.feed = f
	ctx := context.Background()
	require.NoError(t, f.Bootstrap(ctx))

	_, err := f.MarkRead(ctx, []string{"1", "2", "6"})
	require.NoError(t, err)

	server, err := src.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), server)
	assert.Equal(t, server, f.Unread())
}

func TestMarkReadFailureKeepsEchoedReads(t *testing.T) {
	src := &echoSource{fakeSource: newFakeSource(3), failWith: errors.New("response lost")}
	f := New(src)
	src.feed = f
	ctx := context.Background()
	require.NoError(t, f.Bootstrap(ctx))

	_, err := f.MarkRead(ctx, []string{"2"})
	require.Error(t, err)
	assert.Equal(t, int64(2), f.Unread())
}

func TestMarkAllReadEchoOrdering(t *testing.T) {
	for _, holdBack := range []int{0, 2, 5} {
		src := &echoSource{fakeSource: newFakeSource(5), holdBack: holdBack}
		f := New(src, WithPageSize(2))
		src.feed = f
		ctx := context.Background()
		require.NoError(t, f.Bootstrap(ctx))

		affected, err := f.MarkAllRead(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(5), affected)
		assert.Zero(t, f.Unread(), "hold back %d", holdBack)

		fresh := domain.Notification{ID: 100, UserID: 1, Type: domain.TypeOther, Title: "n", CreatedAt: baseTime.Add(time.Hour)}
		src.add(fresh)
		f.Apply(domain.Event{Kind: domain.EventInsert, Notification: fresh})
		src.deliverLate()

		server, err := src.UnreadCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), server)
		assert.Equal(t, server, f.Unread(), "hold back %d", holdBack)
	}
}

func TestWatchResyncsAfterReconnect(t *testing.T) {
	src := newFakeSource(3)
	bus := NewResyncBus()
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	f := New(src, WithResyncBus(bus))
	require.NoError(t, f.Bootstrap(context.Background()))
	require.Equal(t, int64(3), f.Unread())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Watch(ctx) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.handler != nil
	}, time.Second, time.Millisecond)

	// Changes made while the stream was down.
	src.add(domain.Notification{ID: 4, UserID: 1, Type: domain.TypeOther, Title: "n", CreatedAt: baseTime.Add(10 * time.Minute)})
	src.add(domain.Notification{ID: 5, UserID: 1, Type: domain.TypeOther, Title: "n", CreatedAt: baseTime.Add(11 * time.Minute)})
	src.mu.Lock()
	readAt := baseTime
	src.rows[2].ReadAt = &readAt
	handler := src.handler
	src.mu.Unlock()

	handler(domain.Event{Kind: domain.EventResync})

	select {
	case <-signals:
	case <-time.After(2 * time.Second):
		t.Fatal("expected resync signal")
	}
	snap := f.Snapshot()
	assert.Equal(t, int64(4), snap.Unread)
	require.Len(t, snap.Items, 5)
	assert.Equal(t, snowflake.ID(5), snap.Items[0].ID)
	assert.Equal(t, snowflake.ID(3), snap.Items[2].ID)
	assert.NotNil(t, snap.Items[2].ReadAt)

	cancel()
	require.NoError(t, <-done)
}
