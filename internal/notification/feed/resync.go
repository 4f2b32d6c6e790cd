package feed

import "sync"

// ResyncBus tells same-process components to re-query the authoritative unread count.
// Signals coalesce: a listener that has not drained sees one pending signal.
type ResyncBus struct {
	mu     sync.Mutex
	subs   map[uint64]chan struct{}
	nextID uint64
}

func NewResyncBus() *ResyncBus {
	return &ResyncBus{subs: make(map[uint64]chan struct{})}
}

func (b *ResyncBus) Publish() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *ResyncBus) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}
