package predict

import (
	"sync"

	"github.com/petermattis/goid"
)

// Per-goroutine prediction caches. Each goroutine owns its cache struct
// exclusively, so lookups take no locks; the sync.Map only mediates the
// goroutine-id to cache binding. A cache is invalidated when the query id
// changes and cleared in full when it outgrows its capacity.
type goroutineCaches struct {
	capacity       int
	maxPredictions int
	byGoroutine    sync.Map // goroutine id -> *predictionCache
}

type predictionCache struct {
	queryID uint64
	count   uint64
	entries map[string]uint64
}

func newGoroutineCaches(capacity, maxPredictions int) *goroutineCaches {
	return &goroutineCaches{
		capacity:       capacity,
		maxPredictions: maxPredictions,
	}
}

// get returns the calling goroutine's cache, resetting it if the query
// changed since the last call.
func (g *goroutineCaches) get(queryID uint64) *predictionCache {
	gid := goid.Get()
	if v, ok := g.byGoroutine.Load(gid); ok {
		c := v.(*predictionCache)
		if c.queryID != queryID {
			c.queryID = queryID
			c.count = 0
			clear(c.entries)
		}
		return c
	}
	c := &predictionCache{
		queryID: queryID,
		entries: make(map[string]uint64),
	}
	g.byGoroutine.Store(gid, c)
	return c
}

// reset drops the calling goroutine's cache entirely.
func (g *goroutineCaches) reset() {
	g.byGoroutine.Delete(goid.Get())
}
