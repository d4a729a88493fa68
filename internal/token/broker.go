// Package token resolves client credentials into upstream access tokens,
// consulting the token cache before calling the exchange endpoint.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"copilot-proxy-go/internal/cache"
	"copilot-proxy-go/internal/metrics"
	"copilot-proxy-go/internal/model"
)

// ErrExchange wraps every failure to obtain a token from the exchange endpoint.
var ErrExchange = errors.New("token exchange failed")

// Exchanger trades a client credential for an upstream token.
type Exchanger interface {
	Exchange(ctx context.Context, credential string) (*model.ExchangeResult, error)
}

// Broker resolves client credentials into upstream tokens.
type Broker struct {
	store     cache.Store
	exchanger Exchanger
	logger    *slog.Logger
	metrics   *metrics.Metrics
	group     singleflight.Group
}

// NewBroker creates a Broker. The metrics parameter is optional.
func NewBroker(store cache.Store, ex Exchanger, logger *slog.Logger, m *metrics.Metrics) *Broker {
	return &Broker{
		store:     store,
		exchanger: ex,
		logger:    logger.With("component", "token_broker"),
		metrics:   m,
	}
}

// CacheKey derives the cache key for a client credential by removing a
// leading "Bearer " prefix.
func CacheKey(credential string) string {
	return strings.TrimPrefix(credential, "Bearer ")
}

// Resolve returns the upstream token for credential. A cached token is
// returned as is; its expiry is the cache's concern. On a miss the exchange
// endpoint is called once per key even under concurrent requests, and the
// result is cached for refresh_in seconds.
func (b *Broker) Resolve(ctx context.Context, credential string) (string, error) {
	key := CacheKey(credential)

	if tok, ok := b.lookup(ctx, key); ok {
		return tok, nil
	}

	// The shared call outlives any single waiter; the exchange client
	// carries its own timeout.
	shared := context.WithoutCancel(ctx)
	ch := b.group.DoChan(key, func() (any, error) {
		// Another caller may have filled the cache while this one waited.
		if tok, ok := b.lookup(shared, key); ok {
			return tok, nil
		}
		return b.exchange(shared, key, credential)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (b *Broker) lookup(ctx context.Context, key string) (string, bool) {
	if key == "" {
		return "", false
	}

	tok, ok, err := b.store.Get(ctx, key)
	switch {
	case err != nil:
		b.logger.Warn("token cache lookup failed; treating as miss", "err", err)
		b.count(metrics.CacheError)
		return "", false
	case ok:
		b.count(metrics.CacheHit)
		return tok, true
	default:
		b.count(metrics.CacheMiss)
		return "", false
	}
}

func (b *Broker) exchange(ctx context.Context, key, credential string) (string, error) {
	res, err := b.exchanger.Exchange(ctx, credential)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrExchange, err)
	}

	switch {
	case key == "":
		// Nothing to key the entry on.
	case res.RefreshIn <= 0:
		b.logger.Warn("exchange returned no refresh interval; token not cached", "refresh_in", res.RefreshIn)
	default:
		ttl := time.Duration(res.RefreshIn) * time.Second
		if err := b.store.Put(ctx, key, res.Token, ttl); err != nil {
			b.logger.Warn("token cache store failed", "err", err)
		}
	}

	return res.Token, nil
}

func (b *Broker) count(result string) {
	if b.metrics != nil {
		b.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
