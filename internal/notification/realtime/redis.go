package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
	"go.uber.org/zap"
)

// RedisRelay publishes events on a Redis channel and feeds every message received on it into
// the local hub, so a stream open on any instance sees changes made on another.
type RedisRelay struct {
	client  *redis.Client
	channel string
	hub     *Hub
	log     *zap.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, channel string, hub *Hub, log *zap.Logger) *RedisRelay {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisRelay{
		client:  client,
		channel: strings.TrimSpace(channel),
		hub:     hub,
		log:     log.Named("notification.relay"),
	}
}

func (r *RedisRelay) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	r.pubsub = pubsub
	r.done = make(chan struct{})

	go r.run(pubsub.Channel(), r.done)
	r.log.Info("relay subscribed", zap.String("channel", r.channel))
	return nil
}

func (r *RedisRelay) Stop(context.Context) error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if pubsub == nil {
		return nil
	}

	err := pubsub.Close()
	<-done
	return err
}

func (r *RedisRelay) run(messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		if err := r.deliver(context.Background(), msg.Payload); err != nil {
			r.log.Warn("drop relayed event", zap.Error(err))
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, payload string) error {
	var event domain.Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return err
	}
	if event.Kind != domain.EventInsert && event.Kind != domain.EventUpdate {
		return errors.New("unknown event kind")
	}
	return r.hub.Publish(ctx, event)
}
