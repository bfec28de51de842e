package features

// Column distinct counts and join TDOMs come from HyperLogLog sketches fed
// during statistics propagation. The sketches live on the collector and,
// unlike the per-query maps, accumulate across queries.

import (
	"encoding/binary"
	"hash/fnv"

	boom "github.com/tylertreat/BoomFilters"
)

const sketchErrorRate = 0.01

func sketchKey(table, column string) string {
	return table + "." + column
}

// ObserveColumnValue feeds one value of table.column into its sketch.
func (c *Collector) ObserveColumnValue(table, column string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := sketchKey(table, column)
	hll, ok := c.columnSketch[key]
	if !ok {
		var err error
		hll, err = boom.NewDefaultHyperLogLog(sketchErrorRate)
		if err != nil {
			return
		}
		if len(c.columnSketch) > c.maxEntries {
			c.columnSketch = make(map[string]*boom.HyperLogLog)
			c.sketchClears++
		}
		c.columnSketch[key] = hll
	}
	// The sketch's 32-bit FNV-1 hash leaves the high bits, which pick the
	// register, blind to a value's last bytes; pre-mix the value first.
	h := fnv.New64a()
	h.Write(value)
	x := h.Sum64()
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	var mixed [8]byte
	binary.BigEndian.PutUint64(mixed[:], x)
	hll.Add(mixed[:])
}

// DistinctCount estimates the number of distinct values seen for
// table.column. The second return reports whether a sketch exists, which
// callers record as the TDOM-from-HLL flag.
func (c *Collector) DistinctCount(table, column string) (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hll, ok := c.columnSketch[sketchKey(table, column)]
	if !ok {
		return 0, false
	}
	return hll.Count(), true
}

// SnapshotDistinctCounts copies out the distinct-count estimates for every
// sketched column of a table, keyed by column name.
func (c *Collector) SnapshotDistinctCounts(table string) map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := table + "."
	out := make(map[string]uint64)
	for key, hll := range c.columnSketch {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out[key[len(prefix):]] = hll.Count()
		}
	}
	return out
}
