package rbac

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CacheConfig sizes the lookup cache
type CacheConfig struct {
	Size int
	TTL  time.Duration
}

// accessCache holds recent owner+membership lookups. Entries are copies so
// callers cannot mutate cached state.
type accessCache struct {
	lru *expirable.LRU[string, BoardAccess]
}

func newAccessCache(cfg CacheConfig) *accessCache {
	size := cfg.Size
	if size <= 0 {
		size = 10000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &accessCache{lru: expirable.NewLRU[string, BoardAccess](size, nil, ttl)}
}

func cacheKey(boardID, userID string) string {
	return boardID + "\x00" + userID
}

func (c *accessCache) get(boardID, userID string) (*BoardAccess, bool) {
	access, ok := c.lru.Get(cacheKey(boardID, userID))
	if !ok {
		return nil, false
	}
	return cloneAccess(access), true
}

func (c *accessCache) put(boardID, userID string, access *BoardAccess) {
	c.lru.Add(cacheKey(boardID, userID), *cloneAccess(*access))
}

func (c *accessCache) remove(boardID, userID string) {
	c.lru.Remove(cacheKey(boardID, userID))
}

func (c *accessCache) removeBoard(boardID string) {
	prefix := boardID + "\x00"
	for _, key := range c.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func cloneAccess(a BoardAccess) *BoardAccess {
	out := BoardAccess{OwnerID: a.OwnerID}
	if a.MemberRole != nil {
		role := *a.MemberRole
		out.MemberRole = &role
	}
	return &out
}
