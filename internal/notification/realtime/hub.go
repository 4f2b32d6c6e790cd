package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/compliancehub/internal/notification/domain"
)

const DefaultSubscriberBuffer = 32

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidUser    = errors.New("invalid_user")
)

// Hub delivers notification row changes to the owning user's open streams.
// Slow subscribers drop events rather than block publishers.
type Hub struct {
	mu               sync.RWMutex
	streams          map[snowflake.ID]*stream
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	subs   map[uint64]chan domain.Event
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID snowflake.ID
	id     uint64
	ch     chan domain.Event
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[snowflake.ID]*stream),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(_ context.Context, event domain.Event) error {
	if h == nil {
		return ErrHubUnavailable
	}
	userID := event.Notification.UserID
	if userID == 0 {
		return ErrInvalidUser
	}

	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current == nil {
		return nil
	}

	current.mu.Lock()
	subs := make([]chan domain.Event, 0, len(current.subs))
	for _, ch := range current.subs {
		subs = append(subs, ch)
	}
	current.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(userID snowflake.ID) (*Subscription, error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}
	if userID == 0 {
		return nil, ErrInvalidUser
	}

	h.mu.Lock()
	current := h.streams[userID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan domain.Event)}
		h.streams[userID] = current
	}
	current.mu.Lock()
	id := current.nextID
	current.nextID++
	ch := make(chan domain.Event, h.subscriberBuffer)
	current.subs[id] = ch
	current.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{hub: h, userID: userID, id: id, ch: ch}, nil
}

// Subscribers reports open subscriptions for a user.
func (h *Hub) Subscribers(userID snowflake.ID) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current == nil {
		return 0
	}
	current.mu.Lock()
	defer current.mu.Unlock()
	return len(current.subs)
}

func (h *Hub) unsubscribe(userID snowflake.ID, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current := h.streams[userID]
	if current == nil {
		return
	}
	current.mu.Lock()
	delete(current.subs, id)
	empty := len(current.subs) == 0
	current.mu.Unlock()
	if empty {
		delete(h.streams, userID)
	}
}

func (s *Subscription) Events() <-chan domain.Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
