package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	invoiceLockPrefix     = "lock:invoice:create:"
	defaultInvoiceLockTTL = 30 * time.Second
	releaseIfOwnedScript  = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`
)

var (
	errLockUnavailable = errors.New("invoice lock unavailable")
	// ErrLeaseExpired means the lease ran out before Release, so another
	// creation may have overlapped this one.
	ErrLeaseExpired = errors.New("invoice lock expired before release")
)

// InvoiceLock allows one invoice creation in flight per landlord. Leases
// expire after ttl so a crashed holder cannot block the landlord for good.
type InvoiceLock struct {
	client  *redis.Client
	release *redis.Script
	ttl     time.Duration
}

func NewInvoiceLock(client *redis.Client, ttl time.Duration) *InvoiceLock {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultInvoiceLockTTL
	}
	return &InvoiceLock{
		client:  client,
		release: redis.NewScript(releaseIfOwnedScript),
		ttl:     ttl,
	}
}

func invoiceLockKey(userID string) string {
	return invoiceLockPrefix + userID
}

// Acquire takes the landlord's lease or returns ErrInvoiceInProgress while
// another creation holds it.
func (l *InvoiceLock) Acquire(ctx context.Context, userID string) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errLockUnavailable
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", errLockUnavailable)
	}

	key := invoiceLockKey(userID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrInvoiceInProgress
	}
	return &Lease{lock: l, key: key, token: token}, nil
}

// Lease is a held invoice lock.
type Lease struct {
	lock  *InvoiceLock
	key   string
	token string
	once  sync.Once
}

// Release drops the lease if this holder still owns it. Later calls are no-ops.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	var err error
	l.once.Do(func() {
		var deleted int64
		deleted, err = l.lock.release.Run(ctx, l.lock.client, []string{l.key}, l.token).Int64()
		if err == nil && deleted == 0 {
			err = ErrLeaseExpired
		}
	})
	return err
}
