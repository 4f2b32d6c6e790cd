package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/notification/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var _ feed.Source = (*Client)(nil)

func TestFetchPageSendsQueryAndToken(t *testing.T) {
	before := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/notifications", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, before.Format(time.RFC3339Nano), r.URL.Query().Get("before"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[{"id":"11","user_id":"1","type":"other","title":"hello","meta":{},"created_at":"2026-05-01T11:00:00Z","read_at":null}]}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "tok")
	require.NoError(t, err)

	page, err := c.FetchPage(context.Background(), 20, &before)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, snowflake.ID(11), page[0].ID)
	assert.Equal(t, domain.TypeOther, page[0].Type)
	assert.Nil(t, page[0].ReadAt)
}

func TestMarkReadPostsIDs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/notifications/read":
			var body struct {
				IDs []string `json:"ids"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []string{"1", "2"}, body.IDs)
			fmt.Fprint(w, `{"count":2}`)
		case "/api/notifications/read-all":
			assert.Equal(t, http.MethodPost, r.Method)
			fmt.Fprint(w, `{"count":7}`)
		case "/api/notifications/unread-count":
			fmt.Fprint(w, `{"count":3}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, "tok")
	require.NoError(t, err)

	n, err := c.MarkRead(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = c.MarkAllRead(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	n, err = c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestStatusErrorCarriesServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"unauthorized","message":"missing bearer token"}}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "")
	require.NoError(t, err)

	_, err = c.UnreadCount(context.Background())
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusUnauthorized, status.StatusCode)
	assert.Equal(t, "missing bearer token", status.Message)

	_, err = c.Subscribe(context.Background(), func(domain.Event) {})
	require.ErrorAs(t, err, &status)
}

func TestReadEventsParsesFrames(t *testing.T) {
	stream := strings.Join([]string{
		"retry: 2000",
		"",
		": heartbeat",
		"",
		"event:insert",
		`data:{"id":"1"}`,
		"",
		"event: update",
		`data: {"id":"2"}`,
		"",
		"event: ping",
		"data: {}",
		"",
	}, "\n")

	var got []string
	err := readEvents(strings.NewReader(stream), func(kind string, data []byte) {
		got = append(got, kind+" "+string(data))
	})
	assert.Error(t, err)
	assert.Equal(t, []string{`insert {"id":"1"}`, `update {"id":"2"}`}, got)
}

func TestSubscribeReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: insert\ndata: {\"id\":\"%d\",\"user_id\":\"1\",\"type\":\"other\",\"title\":\"t\",\"created_at\":\"2026-05-01T11:00:00Z\"}\n\n", n)
		w.(http.Flusher).Flush()
		if n >= 2 {
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	c, err := New(srv.URL, "tok", WithLogger(zaptest.NewLogger(t)), WithReconnectDelay(5*time.Millisecond, 20*time.Millisecond))
	require.NoError(t, err)

	events := make(chan domain.Event, 4)
	cancel, err := c.Subscribe(context.Background(), func(e domain.Event) { events <- e })
	require.NoError(t, err)

	next := func() domain.Event {
		select {
		case e := <-events:
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
			return domain.Event{}
		}
	}

	first := next()
	assert.Equal(t, domain.EventInsert, first.Kind)
	assert.Equal(t, snowflake.ID(1), first.Notification.ID)

	assert.Equal(t, domain.EventResync, next().Kind)

	second := next()
	assert.Equal(t, domain.EventInsert, second.Kind)
	assert.Equal(t, snowflake.ID(2), second.Notification.ID)

	cancel()
	cancel()
}

func TestNewRejectsRelativeURL(t *testing.T) {
	_, err := New("/api", "tok")
	assert.Error(t, err)
}
