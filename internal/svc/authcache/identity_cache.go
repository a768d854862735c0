package authcache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/mkrupp/userstore/internal/domain"
	"github.com/mkrupp/userstore/internal/infra/logging"
	"github.com/mkrupp/userstore/internal/infra/metrics"
)

// Config holds configuration for the identity cache.
type Config struct {
	// TTL bounds how long an identity is served without a reload; 0 keeps entries until the next reload
	TTL time.Duration `env:"TTL" default:"10m"`

	// CleanupInterval is how often expired entries are purged
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" default:"1m"`
}

// Source provides the full identity set, e.g. the system user collection.
type Source interface {
	All(ctx context.Context) ([]*domain.User, error)
}

// IdentityCache keeps an in-memory view of the system identity set, keyed by username.
// It implements the store's reload notifier: every Reload re-reads the source.
// Concurrent reloads share a single read of the source.
type IdentityCache struct {
	source Source
	cache  *gocache.Cache
	ttl    time.Duration
	group  singleflight.Group
	reads  atomic.Uint64 // number of source reads started
	log    logging.Logger
}

// NewIdentityCache creates an empty IdentityCache backed by source.
// Call Reload to populate it.
func NewIdentityCache(source Source, cfg Config) *IdentityCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}

	return &IdentityCache{
		source: source,
		cache:  gocache.New(ttl, cfg.CleanupInterval),
		ttl:    ttl,
		log:    logging.GetLogger("svc.authcache.identity_cache"),
	}
}

// Reload replaces the cached identity set with the source's current content.
// Entries for users no longer in the source are removed.
func (c *IdentityCache) Reload(ctx context.Context) error {
	load := func() (any, error) {
		read := c.reads.Add(1)

		return read, c.reload(ctx)
	}

	before := c.reads.Load()

	v, err, shared := c.group.Do("reload", load)

	// A joined read that started before this call may predate the caller's change.
	if read, _ := v.(uint64); err == nil && read <= before {
		_, err, shared = c.group.Do("reload", load)
	}

	if err != nil {
		metrics.Reloads.WithLabelValues("identity_cache", metrics.ResultError).Inc()
		c.log.ErrorContext(ctx, "reload failed", "error", err)

		return err
	}

	if !shared {
		metrics.Reloads.WithLabelValues("identity_cache", metrics.ResultOK).Inc()
	}

	return nil
}

func (c *IdentityCache) reload(ctx context.Context) error {
	users, err := c.source.All(ctx)
	if err != nil {
		return fmt.Errorf("load identities: %w", err)
	}

	current := make(map[string]struct{}, len(users))

	for _, user := range users {
		if user == nil || user.Username == "" {
			continue
		}

		current[user.Username] = struct{}{}
		c.cache.Set(user.Username, user.Clone(), c.ttl)
	}

	for username := range c.cache.Items() {
		if _, ok := current[username]; !ok {
			c.cache.Delete(username)
		}
	}

	c.log.DebugContext(ctx, "identities reloaded", "count", len(current))

	return nil
}

// Lookup returns a copy of the cached user with the given username.
func (c *IdentityCache) Lookup(username string) (*domain.User, bool) {
	v, ok := c.cache.Get(username)
	if !ok {
		return nil, false
	}

	user, ok := v.(*domain.User)
	if !ok {
		return nil, false
	}

	return user.Clone(), true
}

// Resolve returns the user with the given username, reloading once on a miss.
// Returns nil and no error if the user does not exist after the reload.
func (c *IdentityCache) Resolve(ctx context.Context, username string) (*domain.User, error) {
	if user, ok := c.Lookup(username); ok {
		return user, nil
	}

	if err := c.Reload(ctx); err != nil {
		return nil, err
	}

	user, _ := c.Lookup(username)

	return user, nil
}

// Active reports whether username is cached and its auth data marks it active.
func (c *IdentityCache) Active(username string) bool {
	user, ok := c.Lookup(username)

	return ok && user.Active()
}

// Len returns the number of cached identities, including expired ones not yet purged.
func (c *IdentityCache) Len() int {
	return c.cache.ItemCount()
}
