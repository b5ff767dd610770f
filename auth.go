package authcore

import (
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/panyam/authcore/password"
)

// Auth is an immutable, concurrency safe authentication instance. Create
// one with New; several may coexist in a process.
type Auth struct {
	opts      Options
	secret    []byte
	schema    *Schema
	internal  *InternalAdapter
	sessions  *SessionManager
	cache     *cookieCache
	limiter   *RateLimiter
	hasher    PasswordHasher
	providers map[string]Provider
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *metrics
}

// New validates opts, merges the schema and wires the components.
// Configuration problems are reported as ErrConfiguration.
func New(opts Options) (*Auth, error) {
	opts.ensureDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	schema, err := NewSchema(opts.Schema, opts.Plugins, opts.Clock)
	if err != nil {
		return nil, err
	}
	a := &Auth{
		opts:      opts,
		secret:    []byte(opts.Secret),
		schema:    schema,
		hasher:    opts.PasswordHasher,
		providers: map[string]Provider{},
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "authcore", "app", opts.AppName),
		metrics:   newMetrics(opts.Registerer),
	}
	if a.hasher == nil {
		a.hasher = password.NewDefaultArgon2()
	}
	for _, p := range opts.Providers {
		a.providers[p.ID()] = p
	}
	a.internal = newInternalAdapter(&opts, schema)
	a.sessions = newSessionManager(a.internal, opts.Session, opts.Clock, opts.Logger, a.metrics)
	a.cache = &cookieCache{secret: a.secret, maxAge: opts.Session.CookieCache.MaxAge, clock: opts.Clock}
	a.limiter = &RateLimiter{
		opts:    opts.RateLimit,
		storage: newRateLimitStorage(&opts, a.internal.db),
		clock:   opts.Clock,
		logger:  opts.Logger.With("component", "ratelimit"),
		metrics: a.metrics,
	}
	return a, nil
}

func newRateLimitStorage(opts *Options, db Adapter) RateLimitStorage {
	switch opts.RateLimit.Storage {
	case RateLimitDatabase:
		return &databaseRateLimitStorage{db: db}
	case RateLimitSecondaryStorage:
		return &secondaryRateLimitStorage{store: opts.SecondaryStorage}
	case RateLimitCustom:
		return opts.RateLimit.CustomStorage
	}
	return NewMemoryRateLimitStorage(opts.Clock)
}

// Internal exposes the persistence layer for plugins and administrative
// tooling.
func (a *Auth) Internal() *InternalAdapter { return a.internal }

// Sessions exposes the session manager.
func (a *Auth) Sessions() *SessionManager { return a.sessions }

// RateLimiter exposes the request rate limiter.
func (a *Auth) RateLimiter() *RateLimiter { return a.limiter }

// Schema returns the merged field schema.
func (a *Auth) Schema() *Schema { return a.schema }

// Options returns a copy of the effective options.
func (a *Auth) Options() Options { return a.opts }
