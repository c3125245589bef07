// Package credential keeps the channel access credential used for outbound
// LINE calls: a static override when one is configured, otherwise a cached
// short-lived token that is refreshed before it expires.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/care-team/care-bridge/internal/cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshBuffer is subtracted from a token's expiry when deciding
// whether it can still be used, so a token does not expire mid-request.
const DefaultRefreshBuffer = 5 * time.Minute

const storeKey = "line:channel-access-token"

// ErrCredentialUnavailable is returned when no static token is configured and
// a token could not be fetched.
var ErrCredentialUnavailable = errors.New("channel access credential unavailable")

// Fetcher issues a new token and reports how long it is valid for.
type Fetcher func(ctx context.Context) (string, time.Duration, error)

// Credential is a cached bearer token and the time it stops being valid.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// UsableAt reports whether the credential can be used at now, allowing for
// the refresh buffer.
func (c Credential) UsableAt(now time.Time, buffer time.Duration) bool {
	return c.Token != "" && !c.ExpiresAt.IsZero() && now.Before(c.ExpiresAt.Add(-buffer))
}

// Cache hands out the channel access token. Concurrent refreshes are
// collapsed into a single fetch.
type Cache struct {
	static string
	fetch  Fetcher
	store  cache.TokenCache[Credential]
	buffer time.Duration
	now    func() time.Time

	refreshes singleflight.Group
}

type Option func(*Cache)

// WithStaticToken configures a token that is always returned; the fetcher
// and store are never consulted. An empty token is ignored.
func WithStaticToken(token string) Option {
	return func(c *Cache) {
		c.static = token
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithRefreshBuffer overrides DefaultRefreshBuffer.
func WithRefreshBuffer(buffer time.Duration) Option {
	return func(c *Cache) {
		c.buffer = buffer
	}
}

func New(fetch Fetcher, store cache.TokenCache[Credential], opts ...Option) *Cache {
	c := &Cache{
		fetch:  fetch,
		store:  store,
		buffer: DefaultRefreshBuffer,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Static reports whether a static override token is in use.
func (c *Cache) Static() bool {
	return c.static != ""
}

// Token returns a usable access token: the static override if set, the
// cached token while it is outside the refresh buffer, or a newly fetched
// one.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if c.static != "" {
		return c.static, nil
	}

	if cred, ok := c.cached(ctx); ok {
		log.Ctx(ctx).Debug().Msg("credential: using cached channel access token")
		return cred.Token, nil
	}

	log.Ctx(ctx).Info().Msg("credential: cached token missing or expiring, fetching")

	return c.refresh(ctx, false)
}

// ForceRefresh discards any cached token and fetches a new one. With a static
// override configured it returns the override unchanged.
func (c *Cache) ForceRefresh(ctx context.Context) (string, error) {
	if c.static != "" {
		return c.static, nil
	}

	log.Ctx(ctx).Info().Msg("credential: forcing channel access token refresh")

	if err := c.store.Invalidate(ctx, storeKey); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("credential: invalidate failed")
	}

	return c.refresh(ctx, true)
}

func (c *Cache) cached(ctx context.Context) (Credential, bool) {
	cred, found, err := c.store.Get(ctx, storeKey)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("credential: cache read failed, treating as miss")
		return Credential{}, false
	}

	if !found || !cred.UsableAt(c.now(), c.buffer) {
		return Credential{}, false
	}

	return cred, true
}

func (c *Cache) refresh(ctx context.Context, forced bool) (string, error) {
	key := "refresh"
	if forced {
		key = "forced"
	}

	// the fetch is shared by every waiting caller and is bounded by the
	// fetcher's own timeout, not by the caller that started it
	fetchCtx := context.WithoutCancel(ctx)

	results := c.refreshes.DoChan(key, func() (any, error) {
		// a concurrent caller may have completed a refresh while this one
		// waited to enter
		if !forced {
			if cred, ok := c.cached(fetchCtx); ok {
				return cred.Token, nil
			}
		}

		token, ttl, err := c.fetch(fetchCtx)
		if err != nil {
			return "", err
		}

		cred := Credential{
			Token:     token,
			ExpiresAt: c.now().Add(ttl),
		}

		if err := c.store.Set(fetchCtx, storeKey, cred); err != nil {
			// the token is still valid for this caller
			log.Ctx(fetchCtx).Warn().Err(err).Msg("credential: cache write failed")
		}

		log.Ctx(fetchCtx).Info().
			Time("expires_at", cred.ExpiresAt).
			Msg("credential: channel access token refreshed")

		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, ctx.Err())
	case res := <-results:
		if res.Err != nil {
			log.Ctx(ctx).Error().Err(res.Err).Bool("shared", res.Shared).Msg("credential: token fetch failed")
			return "", fmt.Errorf("%w: %w", ErrCredentialUnavailable, res.Err)
		}
		return res.Val.(string), nil
	}
}

// Status describes the credential state without exposing the token.
type Status struct {
	UsingStaticToken bool       `json:"using_static_token"`
	HasCachedToken   bool       `json:"has_cached_token"`
	TokenExpiresAt   *time.Time `json:"token_expires_at"`
	IsValid          bool       `json:"is_valid"`
}

// Status reports the current credential state for diagnostics.
func (c *Cache) Status(ctx context.Context) Status {
	if c.static != "" {
		return Status{UsingStaticToken: true, IsValid: true}
	}

	cred, found, err := c.store.Get(ctx, storeKey)
	if err != nil || !found || cred.Token == "" {
		return Status{}
	}

	expiresAt := cred.ExpiresAt
	return Status{
		HasCachedToken: true,
		TokenExpiresAt: &expiresAt,
		IsValid:        cred.UsableAt(c.now(), c.buffer),
	}
}
