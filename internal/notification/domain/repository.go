package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, n *Notification) error
	// ListPage returns up to limit rows ordered by created_at desc, restricted to created_at < before when set.
	ListPage(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int, before *time.Time) ([]Notification, error)
	CountUnread(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	// MarkRead sets read_at on unread rows; nil ids means every unread row. Returns the updated rows.
	MarkRead(ctx context.Context, db *gorm.DB, userID snowflake.ID, ids []snowflake.ID, now time.Time) ([]Notification, error)
}
