package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/compliancehub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrRateLimited       = errors.New("rate_limited")
	ErrInvoiceInProgress = errors.New("invoice_in_progress")
)

const invoiceBucketPrefix = "ratelimit:invoice:create:"

// LimitedError carries the wait hint for a throttled caller.
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *LimitedError) Unwrap() error {
	return ErrRateLimited
}

// InvoiceGuard throttles invoice creation per caller and allows one creation in
// flight per caller. A nil or disabled guard admits every request.
type InvoiceGuard struct {
	bucket *TokenBucket
	lock   *InvoiceLock
	rate   float64
	burst  int
	log    *zap.Logger
}

type Params struct {
	fx.In

	Lc  fx.Lifecycle
	Cfg config.Config
	Log *zap.Logger
}

func NewInvoiceGuard(p Params) *InvoiceGuard {
	log := p.Log.Named("ratelimit.invoice")
	addr := strings.TrimSpace(p.Cfg.Redis.Addr)
	if addr == "" {
		log.Info("invoice guard disabled, redis not configured")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: p.Cfg.Redis.Password,
		DB:       p.Cfg.Redis.DB,
	})
	p.Lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return NewInvoiceGuardWithClient(client, p.Cfg.RateLimit, log)
}

func NewInvoiceGuardWithClient(client *redis.Client, cfg config.RateLimitConfig, log *zap.Logger) *InvoiceGuard {
	if client == nil {
		return nil
	}
	return &InvoiceGuard{
		bucket: NewTokenBucket(client),
		lock:   NewInvoiceLock(client, time.Duration(cfg.InvoiceLockTTL)*time.Second),
		rate:   cfg.InvoiceCreateRate,
		burst:  cfg.InvoiceCreateBurst,
		log:    log,
	}
}

func (g *InvoiceGuard) Enabled() bool {
	return g != nil && g.bucket != nil
}

// Acquire admits one invoice creation for userID. The returned release must be
// called once the creation finishes. Redis failures admit the request.
func (g *InvoiceGuard) Acquire(ctx context.Context, userID string) (func(), error) {
	noop := func() {}
	if !g.Enabled() || userID == "" {
		return noop, nil
	}

	if g.rate > 0 && g.burst > 0 {
		result, err := g.bucket.Allow(ctx, invoiceBucketPrefix+userID, g.rate, g.burst)
		if err != nil {
			g.log.Warn("rate limit check failed", zap.String("user_id", userID), zap.Error(err))
		} else if !result.Allowed {
			return noop, &LimitedError{RetryAfter: result.RetryAfter}
		}
	}

	lease, err := g.lock.Acquire(ctx, userID)
	if errors.Is(err, ErrInvoiceInProgress) {
		return noop, err
	}
	if err != nil {
		g.log.Warn("invoice lock failed", zap.String("user_id", userID), zap.Error(err))
		return noop, nil
	}

	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			g.log.Warn("invoice lock release failed", zap.String("user_id", userID), zap.Error(err))
		}
	}, nil
}
