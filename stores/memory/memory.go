// Package memory provides in-process implementations of the authcore
// storage interfaces. They are meant for tests and development servers;
// nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	ac "github.com/panyam/authcore"
)

// Adapter is an authcore.Adapter over in-memory tables. Records keep their
// insertion order. Records created without an id get a UUID.
type Adapter struct {
	mu     sync.RWMutex
	tables map[string][]ac.Record
}

func NewAdapter() *Adapter {
	return &Adapter{tables: map[string][]ac.Record{}}
}

func (a *Adapter) Create(_ context.Context, model string, data ac.Record) (ac.Record, error) {
	rec := data.Clone()
	if rec == nil {
		rec = ac.Record{}
	}
	if id, _ := rec["id"].(string); id == "" {
		rec["id"] = uuid.NewString()
	}
	a.mu.Lock()
	a.tables[model] = append(a.tables[model], rec)
	a.mu.Unlock()
	return rec.Clone(), nil
}

func (a *Adapter) FindOne(_ context.Context, model string, where []ac.Where) (ac.Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, rec := range a.tables[model] {
		if ac.MatchWhere(rec, where) {
			return rec.Clone(), nil
		}
	}
	return nil, ac.ErrRecordNotFound
}

func (a *Adapter) FindMany(_ context.Context, model string, query ac.FindManyQuery) ([]ac.Record, error) {
	a.mu.RLock()
	rows := make([]ac.Record, len(a.tables[model]))
	for i, rec := range a.tables[model] {
		rows[i] = rec.Clone()
	}
	a.mu.RUnlock()
	return ac.ApplyQuery(rows, query), nil
}

func (a *Adapter) Count(_ context.Context, model string, where []ac.Where) (int64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var n int64
	for _, rec := range a.tables[model] {
		if ac.MatchWhere(rec, where) {
			n++
		}
	}
	return n, nil
}

func (a *Adapter) Update(_ context.Context, model string, where []ac.Where, data ac.Record) (ac.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.tables[model] {
		if ac.MatchWhere(rec, where) {
			for k, v := range data {
				rec[k] = v
			}
			return rec.Clone(), nil
		}
	}
	return nil, ac.ErrRecordNotFound
}

func (a *Adapter) UpdateMany(_ context.Context, model string, where []ac.Where, data ac.Record) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n int64
	for _, rec := range a.tables[model] {
		if !ac.MatchWhere(rec, where) {
			continue
		}
		for k, v := range data {
			rec[k] = v
		}
		n++
	}
	return n, nil
}

// Delete removes the first matching record. Deleting nothing is not an
// error.
func (a *Adapter) Delete(_ context.Context, model string, where []ac.Where) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows := a.tables[model]
	for i, rec := range rows {
		if ac.MatchWhere(rec, where) {
			a.tables[model] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (a *Adapter) DeleteMany(_ context.Context, model string, where []ac.Where) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows := a.tables[model]
	kept := rows[:0:0]
	for _, rec := range rows {
		if !ac.MatchWhere(rec, where) {
			kept = append(kept, rec)
		}
	}
	a.tables[model] = kept
	return int64(len(rows) - len(kept)), nil
}

// Storage is an authcore.SecondaryStorage and authcore.SetStorage with
// expiry driven by a clock.
type Storage struct {
	mu      sync.Mutex
	entries map[string]entry
	sets    map[string]set
	clock   clockwork.Clock
}

type entry struct {
	value     string
	expiresAt time.Time
}

type set struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// NewStorage returns an empty store. A nil clock uses the real clock.
func NewStorage(clock clockwork.Clock) *Storage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Storage{entries: map[string]entry{}, sets: map[string]set{}, clock: clock}
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Storage) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	delete(s.sets, key)
	s.mu.Unlock()
	return nil
}

// liveSet returns the set at key, dropping it once expired. Callers hold mu.
func (s *Storage) liveSet(key string) (set, bool) {
	st, ok := s.sets[key]
	if ok && !st.expiresAt.IsZero() && !s.clock.Now().Before(st.expiresAt) {
		delete(s.sets, key)
		return set{}, false
	}
	return st, ok
}

func (s *Storage) SetAdd(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.liveSet(key)
	if !ok {
		st = set{members: map[string]struct{}{}}
	}
	st.members[member] = struct{}{}
	if ttl > 0 {
		if until := s.clock.Now().Add(ttl); until.After(st.expiresAt) {
			st.expiresAt = until
		}
	}
	s.sets[key] = st
	return nil
}

func (s *Storage) SetRemove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.liveSet(key); ok {
		delete(st.members, member)
		if len(st.members) == 0 {
			delete(s.sets, key)
		}
	}
	return nil
}

func (s *Storage) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.liveSet(key)
	if !ok {
		return nil, nil
	}
	members := make([]string, 0, len(st.members))
	for m := range st.members {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// Len reports the number of stored keys and sets, expired ones included.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries) + len(s.sets)
}
