package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `SELECT id, user_id, type, title, body, meta, created_at, read_at FROM notifications`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	meta := n.Meta
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO notifications (id, user_id, type, title, body, meta, created_at, read_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Body,
		meta,
		n.CreatedAt,
		n.ReadAt,
	).Error
}

func (r *repo) ListPage(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int, before *time.Time) ([]domain.Notification, error) {
	query := selectColumns + ` WHERE user_id = ?`
	args := []any{userID}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UTC())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	var items []domain.Notification
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountUnread(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM notifications WHERE user_id = ? AND read_at IS NULL`,
		userID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead flips unread rows in a single statement and returns exactly the rows it changed, so
// concurrent callers never report the same row. MySQL has no RETURNING and locks the rows first.
func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, userID snowflake.ID, ids []snowflake.ID, now time.Time) ([]domain.Notification, error) {
	if ids != nil && len(ids) == 0 {
		return nil, nil
	}

	where := ` WHERE user_id = ? AND read_at IS NULL`
	args := []any{userID}
	if ids != nil {
		where += ` AND id IN ?`
		args = append(args, ids)
	}

	if db.Dialector.Name() == "mysql" {
		return r.markReadLocking(ctx, db, where, args, now)
	}

	var updated []domain.Notification
	err := db.WithContext(ctx).Raw(
		`UPDATE notifications SET read_at = ?`+where+` RETURNING id, user_id, type, title, body, meta, created_at, read_at`,
		append([]any{now}, args...)...,
	).Scan(&updated).Error
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *repo) markReadLocking(ctx context.Context, db *gorm.DB, where string, args []any, now time.Time) ([]domain.Notification, error) {
	var pending []domain.Notification
	if err := db.WithContext(ctx).Raw(selectColumns+where+` FOR UPDATE`, args...).Scan(&pending).Error; err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}
	if err := db.WithContext(ctx).Exec(`UPDATE notifications SET read_at = ?`+where, append([]any{now}, args...)...).Error; err != nil {
		return nil, err
	}
	for i := range pending {
		readAt := now
		pending[i].ReadAt = &readAt
	}
	return pending, nil
}
