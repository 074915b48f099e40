package rsk

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pep-security/pepcore/curve"
)

// DefaultCacheSize bounds the table cache to roughly the number of distinct public keys
// a server sees between restarts: the pipeline-stage keys of each domain plus a working
// set of recipient keys.
const DefaultCacheSize = 256

// Cache memoizes per-public-key multiplication tables. Translation batches for the same
// recipient repeatedly multiply the same public key by short-lived scalars; the first
// operation pays for the table, the rest reuse it. Entries are immutable after
// insertion and evicted least-recently-used.
//
// Safe for concurrent use.
type Cache struct {
	tables *lru.Cache[[curve.PackedBytes]byte, *curve.Table]

	tableUses  atomic.Uint64
	tableMiss  atomic.Uint64
	transforms atomic.Uint64
}

// CacheMetrics is a snapshot of cache activity, pulled by the metrics exporter rather
// than pushed, since the cache is shared across request handlers.
type CacheMetrics struct {
	// TableUses counts table lookups; TableGenerations counts the misses among them.
	TableUses, TableGenerations uint64
	// Transforms counts RSK-family transforms routed through the cache.
	Transforms uint64
}

// NewCache creates a table cache holding at most size tables.
func NewCache(size int) (*Cache, error) {
	tables, err := lru.New[[curve.PackedBytes]byte, *curve.Table](size)
	if err != nil {
		return nil, err
	}
	return &Cache{tables: tables}, nil
}

// Table returns the multiplication table for p, computing and caching it on first use.
func (c *Cache) Table(p *curve.Point) *curve.Table {
	c.tableUses.Add(1)
	if t, ok := c.tables.Get(p.Fingerprint()); ok {
		return t
	}
	c.tableMiss.Add(1)
	t := curve.NewTable(p)
	c.tables.Add(p.Fingerprint(), t)
	return t
}

func (c *Cache) countTransform() {
	c.transforms.Add(1)
}

// Metrics returns a snapshot of the cache counters.
func (c *Cache) Metrics() CacheMetrics {
	return CacheMetrics{
		TableUses:        c.tableUses.Load(),
		TableGenerations: c.tableMiss.Load(),
		Transforms:       c.transforms.Load(),
	}
}
