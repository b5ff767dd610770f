package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimitStorageKind selects where counters are kept.
type RateLimitStorageKind string

const (
	RateLimitMemory           RateLimitStorageKind = "memory"
	RateLimitDatabase         RateLimitStorageKind = "database"
	RateLimitSecondaryStorage RateLimitStorageKind = "secondary-storage"
	RateLimitCustom           RateLimitStorageKind = "custom"
)

// RateLimitRule is the window and request budget of a path.
type RateLimitRule struct {
	Window   time.Duration
	Max      int64
	Disabled bool
}

// RateLimitStorage persists counters. Get returns nil, nil for a missing
// key; ttl is a hint for stores with expiry.
type RateLimitStorage interface {
	Get(ctx context.Context, key string) (*RateLimit, error)
	Set(ctx context.Context, key string, value *RateLimit, ttl time.Duration) error
}

type RateLimitOptions struct {
	Disabled bool
	Window   time.Duration
	Max      int64
	Storage  RateLimitStorageKind
	// CustomStorage is used when Storage is RateLimitCustom.
	CustomStorage RateLimitStorage
	// Rules override the defaults per path. A key ending in * matches every
	// path with that prefix.
	Rules map[string]RateLimitRule
	// RuleFunc computes a rule per request. A nil result falls back to the
	// static rules.
	RuleFunc func(path, ip string) *RateLimitRule
}

// defaultRules guard the credential endpoints more tightly than the rest.
var defaultRules = map[string]RateLimitRule{
	"/sign-in/*":              {Window: 10 * time.Second, Max: 3},
	"/sign-up/*":              {Window: 10 * time.Second, Max: 3},
	"/change-password":        {Window: 10 * time.Second, Max: 3},
	"/change-email":           {Window: 10 * time.Second, Max: 3},
	"/reset-password":         {Window: 10 * time.Second, Max: 3},
	"/request-password-reset": {Window: 10 * time.Second, Max: 3},
}

// RateLimiter applies fixed window limits keyed by client address and path.
type RateLimiter struct {
	opts    RateLimitOptions
	storage RateLimitStorage
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *metrics
}

// Check counts a request from ip to path and returns a rate limited error
// once the window's budget is spent. A window opens with the first request
// and RateLimit.LastRequest keeps its start; later requests only count.
// Requests without an address are not limited.
func (l *RateLimiter) Check(ctx context.Context, ip, path string) error {
	if l.opts.Disabled || ip == "" {
		return nil
	}
	rule := l.ruleFor(path, ip)
	if rule.Disabled {
		return nil
	}
	key := ip + "|" + path
	now := l.clock.Now()
	current, err := l.storage.Get(ctx, key)
	if err != nil {
		l.logger.Error("rate limit storage read failed", "error", err)
		return nil
	}
	window := rule.Window.Milliseconds()
	switch {
	case current == nil || now.UnixMilli()-current.LastRequest >= window:
		current = &RateLimit{Key: key, Count: 1, LastRequest: now.UnixMilli()}
	case current.Count >= rule.Max:
		retryAfter := time.Duration(current.LastRequest+window-now.UnixMilli()) * time.Millisecond
		l.metrics.rateLimited.WithLabelValues(path).Inc()
		return NewRateLimitedError(retryAfter)
	default:
		current.Count++
	}
	if err := l.storage.Set(ctx, key, current, rule.Window); err != nil {
		l.logger.Error("rate limit storage write failed", "error", err)
	}
	return nil
}

func (l *RateLimiter) ruleFor(path, ip string) RateLimitRule {
	base := RateLimitRule{Window: l.opts.Window, Max: l.opts.Max}
	if l.opts.RuleFunc != nil {
		if r := l.opts.RuleFunc(path, ip); r != nil {
			return fillRule(*r, base)
		}
	}
	if r, ok := matchRule(l.opts.Rules, path); ok {
		return fillRule(r, base)
	}
	if r, ok := matchRule(defaultRules, path); ok {
		return r
	}
	return base
}

func fillRule(r, base RateLimitRule) RateLimitRule {
	if r.Window <= 0 {
		r.Window = base.Window
	}
	if r.Max <= 0 {
		r.Max = base.Max
	}
	return r
}

// matchRule prefers an exact key, then the longest matching wildcard.
func matchRule(rules map[string]RateLimitRule, path string) (RateLimitRule, bool) {
	if r, ok := rules[path]; ok {
		return r, true
	}
	best, found := "", false
	var out RateLimitRule
	for pattern, r := range rules {
		prefix, ok := strings.CutSuffix(pattern, "*")
		if !ok || !strings.HasPrefix(path, prefix) {
			continue
		}
		if !found || len(prefix) > len(best) {
			best, out, found = prefix, r, true
		}
	}
	return out, found
}

// =============================================================================
// Storage
// =============================================================================

// MemoryRateLimitStorage keeps counters in process. Entries are dropped
// once their window has passed.
type MemoryRateLimitStorage struct {
	mu      sync.Mutex
	entries map[string]memoryRateEntry
	clock   clockwork.Clock
}

type memoryRateEntry struct {
	value     RateLimit
	expiresAt time.Time
}

func NewMemoryRateLimitStorage(clock clockwork.Clock) *MemoryRateLimitStorage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRateLimitStorage{entries: map[string]memoryRateEntry{}, clock: clock}
}

func (s *MemoryRateLimitStorage) Get(_ context.Context, key string) (*RateLimit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, nil
	}
	v := e.value
	return &v, nil
}

func (s *MemoryRateLimitStorage) Set(_ context.Context, key string, value *RateLimit, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if len(s.entries) > 10000 {
		for k, e := range s.entries {
			if !now.Before(e.expiresAt) {
				delete(s.entries, k)
			}
		}
	}
	s.entries[key] = memoryRateEntry{value: *value, expiresAt: time.UnixMilli(value.LastRequest).Add(ttl)}
	return nil
}

// databaseRateLimitStorage keeps counters in the rateLimit model.
type databaseRateLimitStorage struct {
	db Adapter
}

func (s *databaseRateLimitStorage) Get(ctx context.Context, key string) (*RateLimit, error) {
	rec, err := s.db.FindOne(ctx, ModelRateLimit, []Where{Eq("key", key)})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &RateLimit{Key: rec.String("key"), Count: rec.Int64("count"), LastRequest: rec.Int64("lastRequest")}, nil
}

func (s *databaseRateLimitStorage) Set(ctx context.Context, key string, value *RateLimit, _ time.Duration) error {
	data := Record{"count": value.Count, "lastRequest": value.LastRequest}
	_, err := s.db.Update(ctx, ModelRateLimit, []Where{Eq("key", key)}, data)
	if errors.Is(err, ErrRecordNotFound) {
		data["key"] = key
		_, err = s.db.Create(ctx, ModelRateLimit, data)
	}
	return err
}

// secondaryRateLimitStorage keeps counters as JSON with the window as TTL.
type secondaryRateLimitStorage struct {
	store SecondaryStorage
}

func (s *secondaryRateLimitStorage) Get(ctx context.Context, key string) (*RateLimit, error) {
	raw, found, err := s.store.Get(ctx, "rate-limit:"+key)
	if err != nil || !found {
		return nil, err
	}
	var v RateLimit
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, nil
	}
	return &v, nil
}

func (s *secondaryRateLimitStorage) Set(ctx context.Context, key string, value *RateLimit, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, "rate-limit:"+key, string(raw), ttl)
}
