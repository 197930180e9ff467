package guardrail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/outrigger-ai/outrigger/internal/tracing"
)

// IdempotencyStore atomically registers a key for a deduplication window.
// Register returns false when the key is already present and unexpired.
// Implementations shared across processes must provide atomic check-and-set.
type IdempotencyStore interface {
	Register(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// KeyResolver derives a deduplication key from an invocation
type KeyResolver func(inv *Invocation) string

// DefaultKeyResolver keys on scope, action name and a content hash of the input
func DefaultKeyResolver(inv *Invocation) string {
	data, _ := json.Marshal(inv.Input)
	sum := sha256.Sum256(data)
	return inv.Scope() + ":" + inv.Action + ":" + hex.EncodeToString(sum[:])
}

// Idempotency rejects duplicate invocations inside a TTL window.
// The TTL governs the deduplication window, not the lifetime of business data.
type Idempotency struct {
	store    IdempotencyStore
	resolver KeyResolver
	ttl      time.Duration
}

// NewIdempotency creates an idempotency guardrail
func NewIdempotency(store IdempotencyStore, resolver KeyResolver, ttl time.Duration) *Idempotency {
	if resolver == nil {
		resolver = DefaultKeyResolver
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Idempotency{
		store:    store,
		resolver: resolver,
		ttl:      ttl,
	}
}

// Name implements Guardrail
func (g *Idempotency) Name() string {
	return "idempotency"
}

// Before registers the resolved key; a duplicate aborts the execution
func (g *Idempotency) Before(ctx context.Context, inv *Invocation) error {
	key := g.resolver(inv)

	accepted, err := g.store.Register(ctx, key, g.ttl)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}
	if !accepted {
		return fmt.Errorf("%w: key %s seen within %s", ErrDuplicate, key, g.ttl)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("action", inv.Action).
		Str("key", key).
		Dur("ttl", g.ttl).
		Msg("Idempotency key registered")

	return nil
}

// memIdempotencyStore is a bounded in-process key→expiry map.
// It is safe only within one process; multi-process deployments must supply
// a shared store.
type memIdempotencyStore struct {
	entries    map[string]time.Time
	maxEntries int
	mu         sync.Mutex
	now        func() time.Time
}

// NewMemoryIdempotencyStore creates an in-process idempotency store holding
// at most maxEntries keys. Zero or negative means the default bound of 10000.
func NewMemoryIdempotencyStore(maxEntries int) IdempotencyStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &memIdempotencyStore{
		entries:    make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (s *memIdempotencyStore) Register(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if expiry, exists := s.entries[key]; exists && now.Before(expiry) {
		return false, nil
	}

	if len(s.entries) >= s.maxEntries {
		s.sweepLocked(now)
		if len(s.entries) >= s.maxEntries {
			s.evictOldestLocked()
		}
	}

	s.entries[key] = now.Add(ttl)
	return true, nil
}

// Sweep removes expired entries. Exposed for the maintenance scheduler.
func (s *memIdempotencyStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *memIdempotencyStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, expiry := range s.entries {
		if !now.Before(expiry) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *memIdempotencyStore) evictOldestLocked() {
	var oldestKey string
	var oldestExpiry time.Time
	for key, expiry := range s.entries {
		if oldestKey == "" || expiry.Before(oldestExpiry) {
			oldestKey = key
			oldestExpiry = expiry
		}
	}
	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}

// Sweeper is implemented by stores that support periodic expiry sweeps
type Sweeper interface {
	Sweep() int
}
