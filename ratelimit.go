package beankit

import (
	"hash/fnv"
	"math"
	"sync"
	"time"
)

// RateLimiter is the throttling contract rate-limit guards consume. An
// implementation must be safe for concurrent use; CheckAndConsume atomically
// takes one token from the bucket identified by key, reporting false when the
// bucket is empty.
type RateLimiter interface {
	CheckAndConsume(key string, max int, window time.Duration) bool
}

const limiterShards = 32

// MemoryRateLimiter is an in-process token-bucket RateLimiter. Buckets are
// spread across shards with independent locks so concurrent calls with
// different keys do not serialize on a single mutex.
type MemoryRateLimiter struct {
	shards [limiterShards]limiterShard
	now    func() time.Time
}

type limiterShard struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

// NewMemoryRateLimiter creates an empty limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	l := &MemoryRateLimiter{now: time.Now}
	for i := range l.shards {
		l.shards[i].buckets = map[string]*tokenBucket{}
	}
	return l
}

// CheckAndConsume refills the bucket for key at max-per-window rate, then
// takes one token if at least one is available. A bucket starts full.
func (l *MemoryRateLimiter) CheckAndConsume(key string, max int, window time.Duration) bool {
	if max <= 0 || window <= 0 {
		return false
	}
	sh := &l.shards[shardIndex(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now()
	b, ok := sh.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(max), last: now}
		sh.buckets[key] = b
	} else {
		refill := now.Sub(b.last).Seconds() * float64(max) / window.Seconds()
		b.tokens = math.Min(float64(max), b.tokens+refill)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % limiterShards
}
