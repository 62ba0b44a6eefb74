package realtime

import (
	"time"

	cache "github.com/patrickmn/go-cache"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"
)

// PresenceCache holds best-effort online state per (identity, role), fed by
// inbound presence events. Entries expire after the TTL, which bounds the
// cache when conversations are never cleaned up.
type PresenceCache struct {
	c *cache.Cache
}

// NewPresenceCache builds the cache with the given entry TTL.
func NewPresenceCache(ttl time.Duration) *PresenceCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PresenceCache{c: cache.New(ttl, ttl/2)}
}

func presenceKey(identity, role string) string {
	return role + ":" + store.NormalizeKey(identity)
}

// Set records a presence observation.
func (p *PresenceCache) Set(identity, role string, online bool) {
	p.c.SetDefault(presenceKey(identity, role), models.UserPresence{
		IsOnline: online,
		LastSeen: time.Now(),
	})
}

// Get is a pure lookup with no network effect; nil means unknown.
func (p *PresenceCache) Get(identity, role string) *models.UserPresence {
	val, ok := p.c.Get(presenceKey(identity, role))
	if !ok {
		return nil
	}
	presence := val.(models.UserPresence)
	return &presence
}
