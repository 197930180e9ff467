package guardrail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/outrigger-ai/outrigger/internal/tracing"
)

// RateLimitStore consumes weight against a fixed-window counter and returns
// the resulting window total and the window reset time. Implementations
// shared across processes must increment atomically.
type RateLimitStore interface {
	Consume(ctx context.Context, key string, weight int, window time.Duration) (total int, resetAt time.Time, err error)
}

// RateLimit aborts executions once a fixed-window counter exceeds a limit
type RateLimit struct {
	store    RateLimitStore
	resolver KeyResolver
	limit    int
	window   time.Duration
	weight   int
}

// RateLimitOption configures a RateLimit guardrail
type RateLimitOption func(*RateLimit)

// WithRateLimitResolver overrides the default scope+action key resolver
func WithRateLimitResolver(resolver KeyResolver) RateLimitOption {
	return func(g *RateLimit) {
		g.resolver = resolver
	}
}

// WithRateLimitWeight sets the weight consumed per call (default 1)
func WithRateLimitWeight(weight int) RateLimitOption {
	return func(g *RateLimit) {
		g.weight = weight
	}
}

// NewRateLimit creates a rate-limit guardrail
func NewRateLimit(store RateLimitStore, limit int, window time.Duration, opts ...RateLimitOption) *RateLimit {
	g := &RateLimit{
		store:  store,
		limit:  limit,
		window: window,
		weight: 1,
		resolver: func(inv *Invocation) string {
			return inv.Scope() + ":" + inv.Action
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Guardrail
func (g *RateLimit) Name() string {
	return "rate_limit"
}

// Before consumes the configured weight; exceeding the limit aborts execution
func (g *RateLimit) Before(ctx context.Context, inv *Invocation) error {
	key := g.resolver(inv)

	total, resetAt, err := g.store.Consume(ctx, key, g.weight, g.window)
	if err != nil {
		return fmt.Errorf("rate limit store: %w", err)
	}

	if total > g.limit {
		return fmt.Errorf("%w: key %s at %d/%d, window resets at %s",
			ErrRateLimited, key, total, g.limit, resetAt.Format(time.RFC3339))
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("action", inv.Action).
		Str("key", key).
		Int("remaining", g.limit-total).
		Time("reset_at", resetAt).
		Msg("Rate limit consumed")

	return nil
}

type windowCounter struct {
	start time.Time
	count int
}

// memRateLimitStore is an in-process fixed-window counter map. The window
// resets lazily on the first call observed after it has elapsed; there is no
// background timer. Safe only within one process.
type memRateLimitStore struct {
	windows map[string]*windowCounter
	mu      sync.Mutex
	now     func() time.Time
}

// NewMemoryRateLimitStore creates an in-process rate-limit store
func NewMemoryRateLimitStore() RateLimitStore {
	return &memRateLimitStore{
		windows: make(map[string]*windowCounter),
		now:     time.Now,
	}
}

func (s *memRateLimitStore) Consume(ctx context.Context, key string, weight int, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	wc, exists := s.windows[key]
	if !exists || !now.Before(wc.start.Add(window)) {
		wc = &windowCounter{start: now}
		s.windows[key] = wc
	}

	wc.count += weight
	return wc.count, wc.start.Add(window), nil
}

// WindowSweeper is implemented by stores that can drop stale rate-limit
// windows during periodic maintenance
type WindowSweeper interface {
	SweepOlderThan(horizon time.Duration) int
}

// Sweep drops windows that have fully elapsed. The window duration is not
// stored per key, so anything older than the given horizon is removed.
func (s *memRateLimitStore) SweepOlderThan(horizon time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, wc := range s.windows {
		if now.Sub(wc.start) > horizon {
			delete(s.windows, key)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Rate limit windows swept")
	}
	return removed
}
