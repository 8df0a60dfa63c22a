package leaderboard

import (
	"time"

	"github.com/MarcoPoloResearchLab/quraniq/backend/internal/players"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cacheKey struct {
	viewer     players.PlayerID
	groupCode  string
	puzzleDate string
}

// cachedRoster is the resolved, unsorted roster one viewer last saw for a group.
type cachedRoster struct {
	entries    []RosterEntry
	computedAt time.Time
}

// rosterCache holds rosters per (viewer, group, puzzle date) for a fixed TTL.
type rosterCache struct {
	lru *expirable.LRU[cacheKey, cachedRoster]
}

func newRosterCache(size int, ttl time.Duration) *rosterCache {
	return &rosterCache{lru: expirable.NewLRU[cacheKey, cachedRoster](size, nil, ttl)}
}

func (c *rosterCache) get(key cacheKey) (cachedRoster, bool) {
	return c.lru.Get(key)
}

func (c *rosterCache) put(key cacheKey, roster cachedRoster) {
	c.lru.Add(key, roster)
}

// invalidate drops every cached date of one viewer's view of one group.
func (c *rosterCache) invalidate(viewer players.PlayerID, groupCode string) {
	for _, key := range c.lru.Keys() {
		if key.viewer == viewer && key.groupCode == groupCode {
			c.lru.Remove(key)
		}
	}
}

// invalidateViewer drops every roster cached for viewer.
func (c *rosterCache) invalidateViewer(viewer players.PlayerID) {
	for _, key := range c.lru.Keys() {
		if key.viewer == viewer {
			c.lru.Remove(key)
		}
	}
}

func (c *rosterCache) size() int {
	return c.lru.Len()
}
