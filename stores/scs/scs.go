// Package scs adapts any github.com/alexedwards/scs/v2 session store to
// authcore.SecondaryStorage, so deployments that already run scs with
// Redis, Postgres, Datastore or another backend can share it.
package scs

import (
	"context"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/jonboulle/clockwork"
)

// noExpiry is the lifetime given to values stored without a ttl. scs stores
// require an expiry on every commit.
const noExpiry = 100 * 365 * 24 * time.Hour

// Storage implements authcore.SecondaryStorage on an scs.Store. Stores that
// implement scs.CtxStore receive the caller's context.
type Storage struct {
	store scs.Store
	clock clockwork.Clock
}

// NewStorage wraps store. A nil clock uses the real clock.
func NewStorage(store scs.Store, clock clockwork.Clock) *Storage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Storage{store: store, clock: clock}
}

func (s *Storage) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		b     []byte
		found bool
		err   error
	)
	if cs, ok := s.store.(scs.CtxStore); ok {
		b, found, err = cs.FindCtx(ctx, key)
	} else {
		b, found, err = s.store.Find(key)
	}
	if err != nil || !found {
		return "", false, err
	}
	return string(b), true, nil
}

func (s *Storage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = noExpiry
	}
	expiry := s.clock.Now().Add(ttl)
	if cs, ok := s.store.(scs.CtxStore); ok {
		return cs.CommitCtx(ctx, key, []byte(value), expiry)
	}
	return s.store.Commit(key, []byte(value), expiry)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if cs, ok := s.store.(scs.CtxStore); ok {
		return cs.DeleteCtx(ctx, key)
	}
	return s.store.Delete(key)
}
