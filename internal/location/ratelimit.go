package location

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RateLimiter is a sliding-window rate limiter: a weighted two-frame
// counter keyed per driver. It is intentionally approximate under
// concurrent callers racing the same key.
type RateLimiter struct {
	store *Store
}

// NewRateLimiter wraps a Store for the rate-limit hit-list key.
func NewRateLimiter(store *Store) *RateLimiter {
	return &RateLimiter{store: store}
}

// ErrRateLimited is returned when the weighted frame count has reached the
// configured limit.
var ErrRateLimited = fmt.Errorf("location: rate limit exceeded")

// Allow runs the weighted two-frame sliding-window check for key and, if the
// call is accepted, records the current frame and persists the trimmed hit
// list with a TTL of frameLen.
func (r *RateLimiter) Allow(ctx context.Context, key string, frameHitsLimit int, frameLen time.Duration) error {
	now := time.Now().Unix()
	frameSecs := int64(frameLen.Seconds())
	if frameSecs <= 0 {
		frameSecs = 1
	}

	raw, err := r.store.Get(ctx, key)
	var hits []int64
	if err == nil {
		if jsonErr := json.Unmarshal([]byte(raw), &hits); jsonErr != nil {
			return fmt.Errorf("location: decode rate limit hits for %s: %w", key, jsonErr)
		}
	} else if err != ErrNotFound {
		return fmt.Errorf("location: load rate limit hits for %s: %w", key, err)
	}

	filtered, accepted := slidingWindowAllow(now, hits, frameHitsLimit, frameSecs)
	if !accepted {
		return ErrRateLimited
	}

	encoded, err := json.Marshal(filtered)
	if err != nil {
		return fmt.Errorf("location: encode rate limit hits for %s: %w", key, err)
	}
	if setErr := r.store.Set(ctx, key, string(encoded), frameLen); setErr != nil {
		return fmt.Errorf("location: persist rate limit hits for %s: %w", key, setErr)
	}
	return nil
}

// slidingWindowAllow is the pure core of the algorithm, split out so it can
// be unit tested deterministically against fixed clocks.
func slidingWindowAllow(now int64, hits []int64, frameHitsLimit int, frameLen int64) ([]int64, bool) {
	currFrame := now / frameLen

	filtered := make([]int64, 0, len(hits)+1)
	for _, h := range hits {
		if h == currFrame-1 || h == currFrame {
			filtered = append(filtered, h)
		}
	}

	prevCount := 0
	currCount := 0
	for _, h := range filtered {
		switch h {
		case currFrame - 1:
			prevCount++
		case currFrame:
			currCount++
		}
	}

	prevWeight := 1.0 - float64(now%frameLen)/float64(frameLen)
	weighted := int(prevWeight*float64(prevCount)) + currCount
	accepted := weighted < frameHitsLimit

	if !accepted {
		return filtered, false
	}

	out := make([]int64, 0, len(filtered)+1)
	out = append(out, currFrame)
	out = append(out, filtered...)
	return out, true
}
