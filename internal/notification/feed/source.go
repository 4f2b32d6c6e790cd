// Package feed is the client-side notification cache: a paginated, newest-first list plus an
// unread counter kept current by push events.
package feed

import (
	"context"
	"time"

	"github.com/smallbiznis/compliancehub/internal/notification/domain"
)

// Source is the remote side of the feed.
type Source interface {
	FetchPage(ctx context.Context, limit int, before *time.Time) ([]domain.Notification, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkAllRead(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, ids []string) (int64, error)
	// Subscribe delivers row changes to handler until the returned cancel func is called.
	Subscribe(ctx context.Context, handler func(domain.Event)) (cancel func(), err error)
}
