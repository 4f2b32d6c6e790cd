package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/authcontext"
	"github.com/smallbiznis/compliancehub/internal/clock"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/notification/realtime"
	"github.com/smallbiznis/compliancehub/internal/notification/repository"
	"github.com/smallbiznis/compliancehub/internal/notification/service"
	"github.com/smallbiznis/compliancehub/pkg/db"
	"github.com/smallbiznis/compliancehub/pkg/db/testschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	svc   domain.Service
	hub   *realtime.Hub
	clock *clock.FakeClock
}

func setup(t *testing.T) fixture {
	t.Helper()
	conn := db.NewTest(t, testschema.Notifications)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	hub := realtime.NewHub()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	svc := service.New(service.Params{
		DB:        conn,
		Log:       zaptest.NewLogger(t),
		GenID:     node,
		Clock:     fake,
		Repo:      repository.Provide(),
		Publisher: hub,
	})
	return fixture{db: conn, svc: svc, hub: hub, clock: fake}
}

func (f fixture) seed(t *testing.T, userID snowflake.ID, n int) []domain.Notification {
	t.Helper()
	out := make([]domain.Notification, 0, n)
	for i := 0; i < n; i++ {
		f.clock.Advance(time.Second)
		item, err := f.svc.Create(context.Background(), domain.CreateRequest{
			UserID: userID.String(),
			Type:   domain.TypeBookingCreated,
			Title:  "Booking created",
			Meta:   map[string]any{"seq": i},
		})
		require.NoError(t, err)
		out = append(out, item)
	}
	return out
}

func userCtx(id snowflake.ID) context.Context {
	return authcontext.WithUserID(context.Background(), id)
}

func TestListPagesNewestFirst(t *testing.T) {
	f := setup(t)
	created := f.seed(t, 1, 25)
	f.seed(t, 2, 3)

	first, err := f.svc.List(userCtx(1), domain.ListRequest{Limit: 20})
	require.NoError(t, err)
	require.Len(t, first, 20)
	assert.Equal(t, created[24].ID, first[0].ID)
	assert.Equal(t, created[5].ID, first[19].ID)

	before := first[19].CreatedAt
	second, err := f.svc.List(userCtx(1), domain.ListRequest{Limit: 20, Before: &before})
	require.NoError(t, err)
	require.Len(t, second, 5)
	assert.Equal(t, created[4].ID, second[0].ID)
	assert.Equal(t, created[0].ID, second[4].ID)

	last := second[4].CreatedAt
	third, err := f.svc.List(userCtx(1), domain.ListRequest{Limit: 20, Before: &last})
	require.NoError(t, err)
	assert.Empty(t, third)
	assert.NotNil(t, third)
}

func TestListRejectsOutOfRangeLimit(t *testing.T) {
	f := setup(t)
	_, err := f.svc.List(userCtx(1), domain.ListRequest{Limit: domain.MaxPageSize + 1})
	assert.ErrorIs(t, err, domain.ErrInvalidLimit)

	_, err = f.svc.List(context.Background(), domain.ListRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}

func TestMarkAllReadClearsUnreadAndPublishesUpdates(t *testing.T) {
	f := setup(t)
	f.seed(t, 1, 7)
	f.seed(t, 2, 2)

	count, err := f.svc.UnreadCount(userCtx(1))
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	sub, err := f.hub.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()

	affected, err := f.svc.MarkAllRead(userCtx(1))
	require.NoError(t, err)
	assert.Equal(t, int64(7), affected)

	count, err = f.svc.UnreadCount(userCtx(1))
	require.NoError(t, err)
	assert.Zero(t, count)

	others, err := f.svc.UnreadCount(userCtx(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), others)

	require.Len(t, sub.Events(), 7)
	for i := 0; i < 7; i++ {
		event := <-sub.Events()
		assert.Equal(t, domain.EventUpdate, event.Kind)
		assert.NotNil(t, event.Notification.ReadAt)
	}

	affected, err = f.svc.MarkAllRead(userCtx(1))
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestMarkAllReadLargeBacklog(t *testing.T) {
	f := setup(t)
	const backlog = 40000
	require.NoError(t, f.db.Exec(
		`WITH RECURSIVE seq(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM seq WHERE n < ?)
		 INSERT INTO notifications (id, user_id, type, title, body, meta, created_at)
		 SELECT n, 1, 'other', 'Backlog', '', '{}', ? FROM seq`,
		backlog,
		f.clock.Now(),
	).Error)

	affected, err := f.svc.MarkAllRead(userCtx(1))
	require.NoError(t, err)
	assert.Equal(t, int64(backlog), affected)

	count, err := f.svc.UnreadCount(userCtx(1))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMarkReadReportsOnlyRowsItChanged(t *testing.T) {
	f := setup(t)
	rows := f.seed(t, 1, 3)

	sub, err := f.hub.Subscribe(1)
	require.NoError(t, err)
	defer sub.Close()

	affected, err := f.svc.MarkRead(userCtx(1), []string{rows[0].ID.String()})
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)
	first := <-sub.Events()
	require.NotNil(t, first.Notification.ReadAt)
	firstReadAt := *first.Notification.ReadAt

	f.clock.Advance(time.Minute)
	affected, err = f.svc.MarkAllRead(userCtx(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	require.Len(t, sub.Events(), 2)
	for i := 0; i < 2; i++ {
		event := <-sub.Events()
		assert.NotEqual(t, rows[0].ID, event.Notification.ID)
		assert.Equal(t, domain.TypeBookingCreated, event.Notification.Type)
	}

	page, err := f.svc.List(userCtx(1), domain.ListRequest{Limit: 10})
	require.NoError(t, err)
	for _, n := range page {
		require.NotNil(t, n.ReadAt)
		if n.ID == rows[0].ID {
			assert.True(t, firstReadAt.Equal(*n.ReadAt))
		}
	}
}

func TestMarkReadCountsOnlyUnreadOwnedRows(t *testing.T) {
	f := setup(t)
	mine := f.seed(t, 1, 3)
	theirs := f.seed(t, 2, 1)

	affected, err := f.svc.MarkRead(userCtx(1), []string{mine[0].ID.String(), mine[1].ID.String(), theirs[0].ID.String()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	affected, err = f.svc.MarkRead(userCtx(1), []string{mine[0].ID.String()})
	require.NoError(t, err)
	assert.Zero(t, affected)

	count, err := f.svc.UnreadCount(userCtx(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = f.svc.MarkRead(userCtx(1), []string{"not-an-id"})
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}

func TestCreatePublishesInsert(t *testing.T) {
	f := setup(t)
	sub, err := f.hub.Subscribe(9)
	require.NoError(t, err)
	defer sub.Close()

	created := f.seed(t, 9, 1)[0]
	event := <-sub.Events()
	assert.Equal(t, domain.EventInsert, event.Kind)
	assert.Equal(t, created.ID, event.Notification.ID)
	assert.Nil(t, event.Notification.ReadAt)
}

func TestCreateValidates(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Create(context.Background(), domain.CreateRequest{UserID: "1", Type: "bogus", Title: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidType)

	_, err = f.svc.Create(context.Background(), domain.CreateRequest{UserID: "1", Type: domain.TypeOther})
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)

	_, err = f.svc.Create(context.Background(), domain.CreateRequest{UserID: "", Type: domain.TypeOther, Title: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}
