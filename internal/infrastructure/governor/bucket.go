package governor

import "time"

// bucket is a continuously-refilled token bucket. Callers hold the governor
// lock; the bucket itself is not safe for concurrent use.
type bucket struct {
	capacity float64
	interval time.Duration // time to mint one token
	tokens   float64
	last     time.Time
}

func newBucket(capacity int, interval time.Duration, now time.Time) *bucket {
	return &bucket{
		capacity: float64(capacity),
		interval: interval,
		tokens:   float64(capacity),
		last:     now,
	}
}

// refill mints tokens for the elapsed time since the last refill
func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.tokens += float64(elapsed) / float64(b.interval)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.last = now
}

func (b *bucket) available() bool {
	return b.tokens >= 1
}

func (b *bucket) take() {
	b.tokens--
}

// put returns a token without exceeding capacity
func (b *bucket) put() {
	b.tokens++
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

// nextToken returns the wait until one whole token is available
func (b *bucket) nextToken() time.Duration {
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	return time.Duration(missing * float64(b.interval))
}
