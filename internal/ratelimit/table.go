package ratelimit

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is the shard count used by New when no table is injected.
const DefaultShards = 64

// BucketTable maps API keys to buckets. Keys are spread over shards that
// each carry their own lock, so the read-tier/compare/replace sequence for
// one key is atomic without serializing unrelated callers.
type BucketTable struct {
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

func NewBucketTable(n int) *BucketTable {
	if n <= 0 {
		n = DefaultShards
	}
	t := &BucketTable{shards: make([]*shard, n)}
	for i := range t.shards {
		t.shards[i] = &shard{buckets: make(map[string]*Bucket)}
	}
	return t
}

func (t *BucketTable) shardFor(key string) *shard {
	return t.shards[xxhash.Sum64String(key)%uint64(len(t.shards))]
}

// Resolve returns the bucket for key if it was built for tier. Otherwise
// it installs build(tier) and reports replaced as true.
func (t *BucketTable) Resolve(key, tier string, build func(string) *Bucket) (b *Bucket, replaced bool) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.buckets[key]; ok && cur.tier == tier {
		return cur, false
	}
	b = build(tier)
	s.buckets[key] = b
	return b, true
}

// Evict drops the bucket for key. The next request rebuilds it full.
func (t *BucketTable) Evict(key string) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
}

// Len counts the buckets held across all shards.
func (t *BucketTable) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}
