package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/authcontext"
	"github.com/smallbiznis/compliancehub/internal/clock"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Publisher domain.Publisher
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	publisher domain.Publisher
	metrics   *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("notification.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Notification, error) {
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID == 0 {
		return domain.Notification{}, domain.ErrInvalidUser
	}
	if !req.Type.Valid() {
		return domain.Notification{}, domain.ErrInvalidType
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return domain.Notification{}, domain.ErrInvalidTitle
	}

	meta := datatypes.JSONMap{}
	for key, value := range req.Meta {
		meta[key] = value
	}

	n := domain.Notification{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Type:      req.Type,
		Title:     title,
		Body:      strings.TrimSpace(req.Body),
		Meta:      meta,
		CreatedAt: s.now(),
	}
	if err := s.repo.Insert(ctx, s.db, &n); err != nil {
		return domain.Notification{}, err
	}

	s.publish(ctx, domain.EventInsert, n)
	return n, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) ([]domain.Notification, error) {
	userID, err := s.userFromContext(ctx)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit == 0 {
		limit = domain.DefaultPageSize
	}
	if limit < 0 || limit > domain.MaxPageSize {
		return nil, domain.ErrInvalidLimit
	}

	items, err := s.repo.ListPage(ctx, s.db, userID, limit, req.Before)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Notification{}
	}
	return items, nil
}

func (s *Service) UnreadCount(ctx context.Context) (int64, error) {
	userID, err := s.userFromContext(ctx)
	if err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, s.db, userID)
}

func (s *Service) MarkAllRead(ctx context.Context) (int64, error) {
	return s.markRead(ctx, "mark_all_read", nil)
}

func (s *Service) MarkRead(ctx context.Context, ids []string) (int64, error) {
	parsed := make([]snowflake.ID, 0, len(ids))
	for _, raw := range ids {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			return 0, domain.ErrInvalidID
		}
		parsed = append(parsed, id)
	}
	return s.markRead(ctx, "mark_read", parsed)
}

func (s *Service) markRead(ctx context.Context, operation string, ids []snowflake.ID) (int64, error) {
	userID, err := s.userFromContext(ctx)
	if err != nil {
		return 0, err
	}

	var updated []domain.Notification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := s.repo.MarkRead(ctx, tx, userID, ids, s.now())
		if err != nil {
			return err
		}
		updated = rows
		return nil
	})
	if err != nil {
		return 0, err
	}

	affected := int64(len(updated))
	s.metrics.RecordNotificationsRead(ctx, operation, affected)
	for _, n := range updated {
		s.publish(ctx, domain.EventUpdate, n)
	}
	return affected, nil
}

// publish failures are logged; the row is already committed.
func (s *Service) publish(ctx context.Context, kind string, n domain.Notification) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, domain.Event{Kind: kind, Notification: n}); err != nil {
		s.log.Warn("publish notification event failed",
			zap.String("kind", kind),
			zap.String("notification_id", n.ID.String()),
			zap.Error(err),
		)
		return
	}
	s.metrics.RecordNotificationPublished(ctx, kind, string(n.Type))
}

func (s *Service) userFromContext(ctx context.Context) (snowflake.ID, error) {
	userID, ok := authcontext.UserIDFromContext(ctx)
	if !ok {
		return 0, domain.ErrInvalidUser
	}
	return userID, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
