package bam2fastq

import (
	"sort"
	"sync"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/unsafe"
	"github.com/grailbio/hts/sam"
)

// ReadPairCache holds records until their mate arrives and hands every
// completed pair to a PairWriter. Thread safe.
type ReadPairCache interface {
	// Accept adds r, received by the given worker. If r's mate is already
	// held, the pair is removed and written.
	Accept(worker int, r *sam.Record) error
	// Flush pairs up records that are held apart by the cache's internal
	// partitioning. It is called once, after all workers have exited.
	Flush() error
	// Len returns the number of records awaiting a mate.
	Len() int
	// IsEmpty is Len() == 0.
	IsEmpty() bool
	// Pending returns up to limit of the records awaiting a mate, sorted by
	// name.
	Pending(limit int) []*sam.Record
}

func releasePair(a, b *sam.Record) {
	sam.PutInFreePool(a)
	sam.PutInFreePool(b)
}

func pendingRecords(limit int, maps ...map[string]*sam.Record) []*sam.Record {
	var recs []*sam.Record
	for _, m := range maps {
		for _, r := range m {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	if limit >= 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// mapCache is one map behind one lock. The completed pair is written while
// the lock is held, so removing a pair from the cache and writing it cannot
// be observed separately.
type mapCache struct {
	w     PairWriter
	mu    sync.Mutex
	mates map[string]*sam.Record
}

func newMapCache(w PairWriter) *mapCache {
	return &mapCache{w: w, mates: make(map[string]*sam.Record)}
}

func (c *mapCache) Accept(_ int, r *sam.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	mate, ok := c.mates[r.Name]
	if !ok {
		c.mates[r.Name] = r
		return nil
	}
	delete(c.mates, r.Name)
	if err := c.w.Write(mate, r); err != nil {
		return err
	}
	releasePair(mate, r)
	return nil
}

func (c *mapCache) Flush() error { return nil }

func (c *mapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mates)
}

func (c *mapCache) IsEmpty() bool { return c.Len() == 0 }

func (c *mapCache) Pending(limit int) []*sam.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pendingRecords(limit, c.mates)
}

type cacheShard struct {
	mu    sync.Mutex
	mates map[string]*sam.Record
}

// shardedCache gives every worker a shard of its own, so the common case of
// both mates being read by the same worker takes an uncontended lock. Mates
// read by different workers stay in their shards until Flush merges them.
type shardedCache struct {
	w      PairWriter
	shards []cacheShard

	// global holds the records left over by Flush.
	mu     sync.Mutex
	global map[string]*sam.Record
}

func newShardedCache(nShards int, w PairWriter) *shardedCache {
	if nShards < 1 {
		nShards = 1
	}
	c := &shardedCache{
		w:      w,
		shards: make([]cacheShard, nShards),
		global: make(map[string]*sam.Record),
	}
	for i := range c.shards {
		c.shards[i].mates = make(map[string]*sam.Record)
	}
	return c
}

// shard returns the shard owned by worker. Worker indexes outside
// [0, len(shards)) are hashed by read name.
func (c *shardedCache) shard(worker int, name string) *cacheShard {
	if worker >= 0 && worker < len(c.shards) {
		return &c.shards[worker]
	}
	h := seahash.Sum64(unsafe.StringToBytes(name))
	return &c.shards[int(h%uint64(len(c.shards)))]
}

func (c *shardedCache) Accept(worker int, r *sam.Record) error {
	s := c.shard(worker, r.Name)
	s.mu.Lock()
	mate, ok := s.mates[r.Name]
	if ok {
		delete(s.mates, r.Name)
	} else {
		s.mates[r.Name] = r
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := c.w.Write(mate, r); err != nil {
		return err
	}
	releasePair(mate, r)
	return nil
}

func (c *shardedCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var nPairs int
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		mates := s.mates
		s.mates = make(map[string]*sam.Record)
		s.mu.Unlock()
		for name, r := range mates {
			mate, ok := c.global[name]
			if !ok {
				c.global[name] = r
				continue
			}
			delete(c.global, name)
			if err := c.w.Write(mate, r); err != nil {
				return err
			}
			releasePair(mate, r)
			nPairs++
		}
	}
	log.Debug.Printf("cache flush: paired %d records across %d shards, %d left", nPairs, len(c.shards), len(c.global))
	return nil
}

func (c *shardedCache) Len() int {
	c.mu.Lock()
	n := len(c.global)
	c.mu.Unlock()
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		n += len(s.mates)
		s.mu.Unlock()
	}
	return n
}

func (c *shardedCache) IsEmpty() bool { return c.Len() == 0 }

func (c *shardedCache) Pending(limit int) []*sam.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	maps := []map[string]*sam.Record{c.global}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		maps = append(maps, s.mates)
		defer s.mu.Unlock()
	}
	return pendingRecords(limit, maps...)
}

// newReadPairCache creates the cache selected by strategy for the given
// number of workers.
func newReadPairCache(strategy CacheStrategy, threads, shardedMinThreads int, w PairWriter) ReadPairCache {
	if strategy == CacheAuto {
		strategy = CacheMap
		if threads >= shardedMinThreads {
			strategy = CacheSharded
		}
	}
	log.Debug.Printf("using %v read pair cache for %d threads", strategy, threads)
	if strategy == CacheSharded {
		return newShardedCache(threads, w)
	}
	return newMapCache(w)
}
