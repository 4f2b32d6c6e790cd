package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidUser  = errors.New("invalid_user")
	ErrInvalidType  = errors.New("invalid_notification_type")
	ErrInvalidTitle = errors.New("invalid_title")
	ErrInvalidID    = errors.New("invalid_notification_id")
	ErrInvalidLimit = errors.New("invalid_limit")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type CreateRequest struct {
	UserID string
	Type   Type
	Title  string
	Body   string
	Meta   map[string]any
}

type ListRequest struct {
	Limit  int
	Before *time.Time
}

// Service operates on the caller's notifications; the user comes from the request context.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (Notification, error)
	List(ctx context.Context, req ListRequest) ([]Notification, error)
	UnreadCount(ctx context.Context) (int64, error)
	MarkAllRead(ctx context.Context) (int64, error)
	MarkRead(ctx context.Context, ids []string) (int64, error)
}

// Publisher fans row changes out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
