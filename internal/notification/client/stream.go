package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"go.uber.org/zap"
)

const streamPath = "/api/notifications/stream"

// Subscribe opens the event stream and delivers insert/update events to handler. The first
// connection is made before returning so authentication failures surface here; later drops
// reconnect with exponential backoff until cancel is called or ctx ends, and each successful
// reconnect is reported to handler as a resync event.
func (c *Client) Subscribe(ctx context.Context, handler func(domain.Event)) (func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)
	body, err := c.openStream(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consume(streamCtx, body, handler)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			wg.Wait()
		})
	}, nil
}

func (c *Client) openStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, streamPath, nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeStatusError(resp)
	}
	return resp.Body, nil
}

func (c *Client) consume(ctx context.Context, body io.ReadCloser, handler func(domain.Event)) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.reconnectInitial
	retry.MaxInterval = c.reconnectMax
	retry.Reset()

	for {
		err := readEvents(body, func(kind string, data []byte) {
			retry.Reset()
			var n domain.Notification
			if err := json.Unmarshal(data, &n); err != nil {
				c.log.Warn("skip malformed event", zap.String("event", kind), zap.Error(err))
				return
			}
			handler(domain.Event{Kind: kind, Notification: n})
		})
		_ = body.Close()
		if ctx.Err() != nil {
			return
		}
		c.log.Info("stream disconnected", zap.Error(err))

		for {
			delay := retry.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			body, err = c.openStream(ctx)
			if err == nil {
				break
			}
			var status *StatusError
			if errors.As(err, &status) && (status.StatusCode == http.StatusUnauthorized || status.StatusCode == http.StatusForbidden) {
				c.log.Warn("stream rejected, giving up", zap.Error(err))
				return
			}
			c.log.Debug("reconnect failed", zap.Duration("delay", delay), zap.Error(err))
		}
		// Events published while disconnected are gone; let the handler catch up.
		handler(domain.Event{Kind: domain.EventResync})
	}
}

// readEvents parses a text/event-stream body, calling fn for insert and update events.
func readEvents(r io.Reader, fn func(kind string, data []byte)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var (
		kind string
		data []string
	)
	dispatch := func() {
		if len(data) > 0 && (kind == domain.EventInsert || kind == domain.EventUpdate) {
			fn(kind, []byte(strings.Join(data, "\n")))
		}
		kind, data = "", nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			kind = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
