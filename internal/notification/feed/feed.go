package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle          State = "idle"
	StateBootstrapping State = "bootstrapping"
	StateReady         State = "ready"
	StateLoadingMore   State = "loading_more"
	StateEmpty         State = "empty"
	StateError         State = "error"
)

const DefaultPageSize = domain.DefaultPageSize

// Snapshot is a copy of the feed state safe to hand to a renderer.
type Snapshot struct {
	State  State
	Items  []domain.Notification
	End    bool
	Unread int64
	Err    error
}

type Option func(*Feed)

func WithPageSize(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

func WithResyncBus(bus *ResyncBus) Option {
	return func(f *Feed) { f.bus = bus }
}

func WithLogger(log *zap.Logger) Option {
	return func(f *Feed) {
		if log != nil {
			f.log = log
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(f *Feed) {
		if now != nil {
			f.now = now
		}
	}
}

// Feed caches the notification list for as long as its owner keeps it. The unread counter is
// seeded from the server and then moved only by push events and confirmed read actions, never
// by counting cached rows.
type Feed struct {
	source   Source
	bus      *ResyncBus
	log      *zap.Logger
	now      func() time.Time
	pageSize int

	mu       sync.Mutex
	state    State
	items    []domain.Notification
	index    map[snowflake.ID]int
	loaded   bool
	end      bool
	inFlight bool
	unread   int64
	err      error
	// ids this feed already counted down; their push echo must not count again.
	acked map[snowflake.ID]struct{}
	// ids inside an unanswered MarkRead, true once their echo arrived.
	pending map[snowflake.ID]bool
	// MarkAllRead calls in flight and the read echoes seen meanwhile.
	pendingAll int
	allEchoes  int64
	// read echoes still owed by finished MarkAllRead calls for rows outside the cache.
	swallow int64
}

func New(source Source, opts ...Option) *Feed {
	f := &Feed{
		source:   source,
		log:      zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
		pageSize: DefaultPageSize,
		state:    StateIdle,
		index:    make(map[snowflake.ID]int),
		acked:    make(map[snowflake.ID]struct{}),
		pending:  make(map[snowflake.ID]bool),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.Named("notification.feed")
	return f
}

// Bootstrap loads the first page and the unread count. A populated cache is reused as is.
func (f *Feed) Bootstrap(ctx context.Context) error {
	f.mu.Lock()
	if f.loaded || f.inFlight {
		f.mu.Unlock()
		return nil
	}
	f.inFlight = true
	f.state = StateBootstrapping
	f.err = nil
	f.mu.Unlock()

	page, pageErr := f.source.FetchPage(ctx, f.pageSize, nil)
	var (
		count    int64
		countErr error
	)
	if pageErr == nil {
		count, countErr = f.source.UnreadCount(ctx)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
	if pageErr != nil {
		f.state = StateError
		f.err = pageErr
		f.log.Warn("bootstrap fetch failed", zap.Error(pageErr))
		return pageErr
	}

	f.loaded = true
	f.appendLocked(page)
	f.end = len(page) < f.pageSize
	if countErr != nil {
		f.log.Warn("unread count fetch failed", zap.Error(countErr))
	} else {
		f.unread = count
	}
	f.settleLocked()
	return countErr
}

// LoadMore fetches the page after the oldest cached row. It does nothing once the end is
// reached or while another fetch is running, and returns the number of rows appended.
func (f *Feed) LoadMore(ctx context.Context) (int, error) {
	f.mu.Lock()
	if !f.loaded {
		f.mu.Unlock()
		return 0, f.Bootstrap(ctx)
	}
	if f.end || f.inFlight {
		f.mu.Unlock()
		return 0, nil
	}
	var before *time.Time
	if n := len(f.items); n > 0 {
		oldest := f.items[n-1].CreatedAt
		before = &oldest
	}
	f.inFlight = true
	f.state = StateLoadingMore
	f.err = nil
	f.mu.Unlock()

	page, err := f.source.FetchPage(ctx, f.pageSize, before)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight = false
	if err != nil {
		// A failed page is an error, not the end of the list.
		f.state = StateError
		f.err = err
		f.log.Warn("load more failed", zap.Error(err))
		return 0, err
	}

	added := f.appendLocked(page)
	if len(page) < f.pageSize {
		f.end = true
	}
	f.settleLocked()
	return added, nil
}

// RefreshUnread replaces the counter with the server's count.
func (f *Feed) RefreshUnread(ctx context.Context) error {
	count, err := f.source.UnreadCount(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.unread = count
	f.mu.Unlock()
	return nil
}

// Apply folds a pushed row change into the cache.
func (f *Feed) Apply(event domain.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := event.Notification
	switch event.Kind {
	case domain.EventInsert:
		if _, ok := f.index[n.ID]; ok {
			return
		}
		f.items = append([]domain.Notification{n}, f.items...)
		f.reindexLocked()
		if n.ReadAt == nil {
			f.unread++
		}
		if f.loaded && !f.inFlight {
			f.settleLocked()
		}
	case domain.EventUpdate:
		wasRead := false
		if pos, ok := f.index[n.ID]; ok {
			wasRead = f.items[pos].ReadAt != nil
			f.items[pos] = n
		}
		if n.ReadAt == nil {
			return
		}
		if _, ok := f.pending[n.ID]; ok {
			f.pending[n.ID] = true
			return
		}
		if _, ok := f.acked[n.ID]; ok {
			delete(f.acked, n.ID)
			return
		}
		if wasRead {
			return
		}
		if f.pendingAll > 0 {
			f.allEchoes++
			return
		}
		if f.swallow > 0 {
			f.swallow--
			return
		}
		f.decrementLocked(1)
	}
}

// Watch subscribes to push events and applies them until ctx is done. A reconnect of the
// underlying stream triggers a Resync, since events sent while it was down are lost.
func (f *Feed) Watch(ctx context.Context) error {
	resync := make(chan struct{}, 1)
	cancel, err := f.source.Subscribe(ctx, func(event domain.Event) {
		if event.Kind == domain.EventResync {
			select {
			case resync <- struct{}{}:
			default:
			}
			return
		}
		f.Apply(event)
	})
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-resync:
			if err := f.Resync(ctx); err != nil && ctx.Err() == nil {
				f.log.Warn("resync failed", zap.Error(err))
			}
		}
	}
}

// Resync refetches the newest page, merging rows missed or changed while push delivery was
// interrupted, and replaces the counter with the server's count.
func (f *Feed) Resync(ctx context.Context) error {
	page, err := f.source.FetchPage(ctx, f.pageSize, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	fresh := make([]domain.Notification, 0, len(page))
	for _, n := range page {
		if pos, ok := f.index[n.ID]; ok {
			f.items[pos] = n
			continue
		}
		fresh = append(fresh, n)
	}
	if len(fresh) > 0 {
		f.items = append(fresh, f.items...)
		sort.SliceStable(f.items, func(i, j int) bool {
			return f.items[i].CreatedAt.After(f.items[j].CreatedAt)
		})
		f.reindexLocked()
	}
	if !f.loaded {
		f.loaded = true
		f.end = len(page) < f.pageSize
	}
	if !f.inFlight {
		f.settleLocked()
	}
	f.mu.Unlock()

	if err := f.RefreshUnread(ctx); err != nil {
		return err
	}
	f.bus.Publish()
	return nil
}

// MarkAllRead sets the counter to zero. Read echoes that arrive before or after the response
// are matched against the affected rows so none of them counts twice.
func (f *Feed) MarkAllRead(ctx context.Context) (int64, error) {
	f.mu.Lock()
	f.pendingAll++
	f.mu.Unlock()

	affected, err := f.source.MarkAllRead(ctx)

	f.mu.Lock()
	f.pendingAll--
	if err != nil {
		// Echoes seen meanwhile are confirmed reads of their own.
		if f.pendingAll == 0 {
			f.decrementLocked(f.allEchoes)
			f.allEchoes = 0
		}
		f.mu.Unlock()
		return 0, err
	}

	echoed := f.allEchoes
	if echoed > affected {
		echoed = affected
	}
	f.allEchoes -= echoed
	if f.pendingAll == 0 {
		f.allEchoes = 0
	}

	owed := affected - echoed
	now := f.now()
	for i := range f.items {
		if f.items[i].ReadAt != nil {
			continue
		}
		readAt := now
		f.items[i].ReadAt = &readAt
		f.acked[f.items[i].ID] = struct{}{}
		owed--
	}
	if owed > 0 {
		f.swallow += owed
	}
	f.unread = 0
	f.mu.Unlock()

	f.bus.Publish()
	return affected, nil
}

// MarkRead subtracts the affected count once. Ids are registered before the request so an echo
// that beats the response is not counted on its own.
func (f *Feed) MarkRead(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	f.mu.Lock()
	mine := make([]snowflake.ID, 0, len(ids))
	for _, raw := range ids {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			continue
		}
		if _, ok := f.pending[id]; ok {
			continue
		}
		f.pending[id] = false
		mine = append(mine, id)
	}
	f.mu.Unlock()

	affected, err := f.source.MarkRead(ctx, ids)

	f.mu.Lock()
	var echoed int64
	quiet := make([]snowflake.ID, 0, len(mine))
	for _, id := range mine {
		if f.pending[id] {
			echoed++
		} else {
			quiet = append(quiet, id)
		}
		delete(f.pending, id)
	}
	if err != nil {
		f.decrementLocked(echoed)
		f.mu.Unlock()
		return 0, err
	}

	now := f.now()
	for _, id := range quiet {
		// A row turns read once, so an ack left for an id the server skipped never fires.
		f.acked[id] = struct{}{}
		if pos, ok := f.index[id]; ok && f.items[pos].ReadAt == nil {
			readAt := now
			f.items[pos].ReadAt = &readAt
		}
	}
	f.decrementLocked(affected)
	f.mu.Unlock()

	f.bus.Publish()
	return affected, nil
}

// Reset drops the cache so the next Bootstrap fetches again.
func (f *Feed) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateIdle
	f.items = nil
	f.index = make(map[snowflake.ID]int)
	f.acked = make(map[snowflake.ID]struct{})
	f.swallow = 0
	f.loaded = false
	f.end = false
	f.unread = 0
	f.err = nil
}

func (f *Feed) Unread() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Snapshot{
		State:  f.state,
		Items:  append([]domain.Notification(nil), f.items...),
		End:    f.end,
		Unread: f.unread,
		Err:    f.err,
	}
}

func (f *Feed) appendLocked(page []domain.Notification) int {
	added := 0
	for _, n := range page {
		if _, ok := f.index[n.ID]; ok {
			continue
		}
		f.index[n.ID] = len(f.items)
		f.items = append(f.items, n)
		added++
	}
	return added
}

func (f *Feed) reindexLocked() {
	for i, n := range f.items {
		f.index[n.ID] = i
	}
}

func (f *Feed) decrementLocked(by int64) {
	f.unread -= by
	if f.unread < 0 {
		f.unread = 0
	}
}

func (f *Feed) settleLocked() {
	if len(f.items) == 0 {
		f.state = StateEmpty
		return
	}
	f.state = StateReady
}
