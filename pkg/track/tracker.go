package track

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// goroutineCacheCap bounds the per-goroutine fast path; pipelines rarely
// touch more than a few dozen operators.
const goroutineCacheCap = 64

var trackerIDs atomic.Uint64

// Tracker is the execution-time registry of operator states. Hot loops avoid
// the registry mutex through a per-goroutine cache validated by (tracker id,
// generation); Reset bumps the generation, invalidating every cache at once.
type Tracker struct {
	id         uint64
	generation atomic.Uint64

	mu     sync.Mutex
	states map[any]*OperatorState

	local sync.Map // goroutine id -> *goroutineCache
}

type cacheEntry struct {
	op    any
	state *OperatorState
}

type goroutineCache struct {
	trackerID  uint64
	generation uint64
	entries    []cacheEntry
}

func NewTracker() *Tracker {
	t := &Tracker{
		id:     trackerIDs.Add(1),
		states: make(map[any]*OperatorState),
	}
	t.generation.Store(1)
	return t
}

// Register binds a state to a physical operator. The operator pointer is the
// identity key; registering the same operator twice keeps the first state.
func (t *Tracker) Register(op any, state *OperatorState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.states[op]; ok {
		return
	}
	t.states[op] = state
}

// Lookup resolves an operator's state, serving hot loops from the
// per-goroutine cache when possible.
func (t *Tracker) Lookup(op any) *OperatorState {
	c := t.localCache()
	for i := range c.entries {
		if c.entries[i].op == op {
			return c.entries[i].state
		}
	}

	t.mu.Lock()
	state := t.states[op]
	t.mu.Unlock()
	if state == nil {
		return nil
	}

	if len(c.entries) < goroutineCacheCap {
		c.entries = append(c.entries, cacheEntry{op: op, state: state})
	}
	return state
}

// AddRows is the execution fast path: resolve and count in one call.
func (t *Tracker) AddRows(op any, n uint64) {
	if state := t.Lookup(op); state != nil {
		state.AddRows(n)
	}
}

// Reset clears the registry and invalidates all per-goroutine caches by
// bumping the generation.
func (t *Tracker) Reset() {
	t.generation.Add(1)
	t.mu.Lock()
	t.states = make(map[any]*OperatorState)
	t.mu.Unlock()
}

// Size reports the number of registered operators.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

func (t *Tracker) localCache() *goroutineCache {
	gid := goid.Get()
	gen := t.generation.Load()

	if v, ok := t.local.Load(gid); ok {
		c := v.(*goroutineCache)
		if c.trackerID == t.id && c.generation == gen {
			return c
		}
		c.trackerID = t.id
		c.generation = gen
		c.entries = c.entries[:0]
		return c
	}

	c := &goroutineCache{trackerID: t.id, generation: gen}
	t.local.Store(gid, c)
	return c
}
