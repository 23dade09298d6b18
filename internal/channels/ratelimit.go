package channels

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	// maxTrackedChats caps the number of per-chat limiters kept in memory.
	maxTrackedChats = 4096

	DefaultSendRate  = 1.0 // messages per second per chat
	DefaultSendBurst = 3
)

// SendLimiter paces outbound calls per chat so bursts of edits, pins and
// chunks stay under the platform's flood limits. When the tracked-chat cap
// is reached the least recently used chat's limiter is evicted. Safe for
// concurrent use.
type SendLimiter struct {
	mu      sync.Mutex // serializes get-or-create
	limit   rate.Limit
	burst   int
	entries *lru.Cache[int64, *rate.Limiter]
}

// NewSendLimiter allows perSecond calls per chat with the given burst.
// perSecond <= 0 disables limiting.
func NewSendLimiter(perSecond float64, burst int) *SendLimiter {
	return newSendLimiter(perSecond, burst, maxTrackedChats)
}

func newSendLimiter(perSecond float64, burst, capacity int) *SendLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = DefaultSendBurst
	}
	if capacity <= 0 {
		capacity = maxTrackedChats
	}
	entries, _ := lru.New[int64, *rate.Limiter](capacity) // only fails for capacity <= 0
	return &SendLimiter{limit: limit, burst: burst, entries: entries}
}

// Wait blocks until a call to chatID is allowed or ctx ends.
func (s *SendLimiter) Wait(ctx context.Context, chatID int64) error {
	return s.get(chatID).Wait(ctx)
}

// Allow reports whether a call to chatID may happen now, consuming a token if so.
func (s *SendLimiter) Allow(chatID int64) bool {
	return s.get(chatID).Allow()
}

func (s *SendLimiter) get(chatID int64) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.entries.Get(chatID); ok {
		return l
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.entries.Add(chatID, l)
	return l
}

// Tracked returns the number of chats with a live limiter.
func (s *SendLimiter) Tracked() int {
	return s.entries.Len()
}
