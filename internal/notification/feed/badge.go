package feed

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Badge shows the unread count and refreshes it from the source on every resync signal.
type Badge struct {
	source Source
	bus    *ResyncBus
	log    *zap.Logger
	count  atomic.Int64
}

func NewBadge(source Source, bus *ResyncBus, log *zap.Logger) *Badge {
	if log == nil {
		log = zap.NewNop()
	}
	return &Badge{source: source, bus: bus, log: log.Named("notification.badge")}
}

func (b *Badge) Count() int64 { return b.count.Load() }

func (b *Badge) Refresh(ctx context.Context) error {
	count, err := b.source.UnreadCount(ctx)
	if err != nil {
		return err
	}
	b.count.Store(count)
	return nil
}

// Run refreshes once, then on each resync until ctx is done.
func (b *Badge) Run(ctx context.Context, onChange func(int64)) error {
	signals, unsubscribe := b.bus.Subscribe()
	defer unsubscribe()

	refresh := func() {
		if err := b.Refresh(ctx); err != nil {
			b.log.Warn("unread count refresh failed", zap.Error(err))
			return
		}
		if onChange != nil {
			onChange(b.Count())
		}
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-signals:
			refresh()
		}
	}
}
