package authcore

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"slices"
	"sync"
	"time"
)

// Sessions live in the database, in secondary storage, or in both. In
// secondary storage each session is stored under its token as a
// SessionWithUser document, and every user has an index of active tokens.
// Storage implementing SetStorage keeps the index as a set; plain key/value
// storage keeps a JSON list.

const activeSessionsPrefix = "active-sessions-"

type activeSession struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (ia *InternalAdapter) useDatabaseForSessions() bool {
	return ia.secondary == nil || ia.session.StoreSessionInDatabase
}

// CreateSession persists a new session for userID. Fields in extra are
// written alongside the core session fields.
func (ia *InternalAdapter) CreateSession(ctx context.Context, userID string, meta RequestMeta, dontRememberMe bool, extra Record) (*Session, error) {
	now := ia.clock.Now()
	expiresIn := ia.session.ExpiresIn
	if dontRememberMe {
		expiresIn = DontRememberMeExpiresIn
	}
	token, err := GenerateSecureToken(32)
	if err != nil {
		return nil, internalError("failed to generate session token", err)
	}
	data := extra.Clone()
	if data == nil {
		data = Record{}
	}
	data["token"] = token
	data["userId"] = userID
	data["expiresAt"] = now.Add(expiresIn)
	if meta.IPAddress != "" {
		data["ipAddress"] = meta.IPAddress
	}
	if meta.UserAgent != "" {
		data["userAgent"] = meta.UserAgent
	}
	if dontRememberMe {
		data["dontRememberMe"] = true
	}

	if ia.secondary == nil {
		rec, err := ia.create(ctx, ModelSession, data)
		if err != nil {
			return nil, err
		}
		return SessionFromRecord(rec), nil
	}

	user, err := ia.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	hooks := ia.hooks.Session
	data, err = runBefore(ctx, hooks.BeforeCreate, data)
	if err != nil {
		return nil, err
	}
	parsed, err := ia.schema.ParseInput(ModelSession, data, ActionCreate, false)
	if err != nil {
		return nil, err
	}
	if _, ok := parsed["id"]; !ok {
		id := ia.ids.NewID(ModelSession)
		if id == "" && !ia.session.StoreSessionInDatabase {
			id = ia.fallbackIDs.NewID(ModelSession)
		}
		if id != "" {
			parsed["id"] = id
		}
	}
	rec := parsed
	if ia.session.StoreSessionInDatabase {
		if rec, err = ia.db.Create(ctx, ModelSession, parsed); err != nil {
			return nil, internalError("failed to create session", err)
		}
	}
	session := SessionFromRecord(rec)
	if err := ia.storeSecondarySession(ctx, &SessionWithUser{Session: session, User: user}); err != nil {
		return nil, err
	}
	runAfter(ctx, ia.logger, hooks.AfterCreate, rec)
	return session, nil
}

// FindSession resolves token to its session and user. Expiry is not
// checked here.
func (ia *InternalAdapter) FindSession(ctx context.Context, token string) (*SessionWithUser, error) {
	if ia.secondary != nil {
		sw, err := ia.loadSecondarySession(ctx, token)
		if err != nil {
			return nil, err
		}
		if sw != nil {
			return sw, nil
		}
		if !ia.session.StoreSessionInDatabase {
			return nil, NewNotFoundError(CodeSessionNotFound, "session not found")
		}
	}
	rec, err := ia.db.FindOne(ctx, ModelSession, []Where{Eq("token", token)})
	if errors.Is(err, ErrRecordNotFound) {
		return nil, NewNotFoundError(CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, internalError("failed to find session", err)
	}
	session := SessionFromRecord(rec)
	user, err := ia.FindUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NewNotFoundError(CodeSessionNotFound, "session user not found")
		}
		return nil, err
	}
	return &SessionWithUser{Session: session, User: user}, nil
}

// UpdateSession applies data to the session identified by token in every
// store that holds it.
func (ia *InternalAdapter) UpdateSession(ctx context.Context, token string, data Record) (*Session, error) {
	hooks := ia.hooks.Session
	data, err := runBefore(ctx, hooks.BeforeUpdate, data)
	if err != nil {
		return nil, err
	}
	parsed, err := ia.schema.ParseInput(ModelSession, data, ActionUpdate, false)
	if err != nil {
		return nil, err
	}
	var updated Record
	if ia.secondary != nil {
		sw, err := ia.loadSecondarySession(ctx, token)
		if err != nil {
			return nil, err
		}
		if sw != nil {
			rec := sw.Session.Record()
			for k, v := range parsed {
				rec[k] = v
			}
			sw.Session = SessionFromRecord(rec)
			if err := ia.storeSecondarySession(ctx, sw); err != nil {
				return nil, err
			}
			updated = rec
		}
	}
	if ia.useDatabaseForSessions() {
		rec, err := ia.db.Update(ctx, ModelSession, []Where{Eq("token", token)}, parsed)
		switch {
		case errors.Is(err, ErrRecordNotFound):
		case err != nil:
			return nil, internalError("failed to update session", err)
		default:
			updated = rec
		}
	}
	if updated == nil {
		return nil, NewNotFoundError(CodeSessionNotFound, "session not found")
	}
	runAfter(ctx, ia.logger, hooks.AfterUpdate, updated)
	return SessionFromRecord(updated), nil
}

// DeleteSession revokes a single session.
func (ia *InternalAdapter) DeleteSession(ctx context.Context, token string) error {
	if ia.secondary != nil {
		sw, err := ia.loadSecondarySession(ctx, token)
		if err != nil {
			return err
		}
		if sw != nil {
			if err := ia.removeActiveSession(ctx, sw.Session.UserID, token); err != nil {
				return err
			}
		}
		if err := ia.secondary.Delete(ctx, token); err != nil {
			return internalError("failed to delete session", err)
		}
	}
	if !ia.useDatabaseForSessions() {
		return nil
	}
	return ia.retireDatabaseSessions(ctx, []Where{Eq("token", token)})
}

// DeleteSessions revokes every session of userID.
func (ia *InternalAdapter) DeleteSessions(ctx context.Context, userID string) error {
	if ia.secondary != nil {
		tokens, err := ia.clearActiveSessions(ctx, userID)
		if err != nil {
			return err
		}
		for _, token := range tokens {
			if err := ia.secondary.Delete(ctx, token); err != nil {
				return internalError("failed to delete session", err)
			}
		}
	}
	if !ia.useDatabaseForSessions() {
		return nil
	}
	return ia.retireDatabaseSessions(ctx, []Where{Eq("userId", userID)})
}

// retireDatabaseSessions deletes matching rows, or expires them in place
// when revoked sessions are preserved.
func (ia *InternalAdapter) retireDatabaseSessions(ctx context.Context, where []Where) error {
	if ia.secondary != nil && ia.session.PreserveSessionInDatabase {
		now := ia.clock.Now()
		if _, err := ia.db.UpdateMany(ctx, ModelSession, where, Record{"expiresAt": now, "updatedAt": now}); err != nil {
			return internalError("failed to expire sessions", err)
		}
		return nil
	}
	if _, err := ia.db.DeleteMany(ctx, ModelSession, where); err != nil {
		return internalError("failed to delete sessions", err)
	}
	return nil
}

// ListSessions returns the unexpired sessions of userID, oldest first.
// With secondary storage the active index is authoritative; when sessions
// are also stored in the database both sources are merged by token and the
// secondary copy wins.
func (ia *InternalAdapter) ListSessions(ctx context.Context, userID string) ([]*Session, error) {
	now := ia.clock.Now()
	byToken := map[string]*Session{}
	if ia.secondary != nil {
		active, err := ia.activeSessions(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, token := range active {
			sw, err := ia.loadSecondarySession(ctx, token)
			if err != nil {
				return nil, err
			}
			if sw != nil && !sw.Session.Expired(now) {
				byToken[sw.Session.Token] = sw.Session
			}
		}
	}
	if ia.useDatabaseForSessions() {
		recs, err := ia.db.FindMany(ctx, ModelSession, FindManyQuery{Where: []Where{Eq("userId", userID)}})
		if err != nil {
			return nil, internalError("failed to list sessions", err)
		}
		for _, rec := range recs {
			s := SessionFromRecord(rec)
			if _, seen := byToken[s.Token]; seen || s.Expired(now) {
				continue
			}
			byToken[s.Token] = s
		}
	}
	sessions := make([]*Session, 0, len(byToken))
	for _, s := range byToken {
		sessions = append(sessions, s)
	}
	slices.SortFunc(sessions, func(a, b *Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return sessions, nil
}

// refreshSessionUser rewrites the user copy of every cached session.
func (ia *InternalAdapter) refreshSessionUser(ctx context.Context, user *User) error {
	if ia.secondary == nil {
		return nil
	}
	active, err := ia.activeSessions(ctx, user.ID)
	if err != nil {
		return err
	}
	for _, token := range active {
		sw, err := ia.loadSecondarySession(ctx, token)
		if err != nil {
			return err
		}
		if sw == nil {
			continue
		}
		sw.User = user
		if err := ia.storeSecondarySession(ctx, sw); err != nil {
			return err
		}
	}
	return nil
}

func (ia *InternalAdapter) loadSecondarySession(ctx context.Context, token string) (*SessionWithUser, error) {
	raw, found, err := ia.secondary.Get(ctx, token)
	if err != nil {
		return nil, internalError("failed to read session", err)
	}
	if !found {
		return nil, nil
	}
	var sw SessionWithUser
	if err := json.Unmarshal([]byte(raw), &sw); err != nil || sw.Session == nil || sw.User == nil {
		ia.logger.Warn("discarding unreadable session", "error", err)
		return nil, nil
	}
	return &sw, nil
}

func (ia *InternalAdapter) storeSecondarySession(ctx context.Context, sw *SessionWithUser) error {
	ttl := sw.Session.ExpiresAt.Sub(ia.clock.Now())
	if ttl <= 0 {
		return ia.secondary.Delete(ctx, sw.Session.Token)
	}
	raw, err := json.Marshal(sw)
	if err != nil {
		return internalError("failed to encode session", err)
	}
	if err := ia.secondary.Set(ctx, sw.Session.Token, string(raw), ttl); err != nil {
		return internalError("failed to store session", err)
	}
	return ia.putActiveSession(ctx, sw.Session.UserID, activeSession{Token: sw.Session.Token, ExpiresAt: sw.Session.ExpiresAt.UnixMilli()})
}

// activeSessions returns the tokens indexed for userID. Tokens whose
// session has since expired may be included; callers skip them on load.
func (ia *InternalAdapter) activeSessions(ctx context.Context, userID string) ([]string, error) {
	if sets, ok := ia.secondary.(SetStorage); ok {
		tokens, err := sets.SetMembers(ctx, activeSessionsPrefix+userID)
		if err != nil {
			return nil, internalError("failed to read session index", err)
		}
		return tokens, nil
	}
	entries, err := ia.readActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, len(entries))
	for i, e := range entries {
		tokens[i] = e.Token
	}
	return tokens, nil
}

// indexTTL outlives every session the index can hold.
func (ia *InternalAdapter) indexTTL() time.Duration {
	return max(ia.session.ExpiresIn, DontRememberMeExpiresIn)
}

func (ia *InternalAdapter) putActiveSession(ctx context.Context, userID string, entry activeSession) error {
	key := activeSessionsPrefix + userID
	if sets, ok := ia.secondary.(SetStorage); ok {
		if err := sets.SetAdd(ctx, key, entry.Token, ia.indexTTL()); err != nil {
			return internalError("failed to store session index", err)
		}
		return nil
	}
	defer ia.indexLocks.lock(key)()
	entries, err := ia.readActiveSessions(ctx, userID)
	if err != nil {
		return err
	}
	entries = slices.DeleteFunc(entries, func(e activeSession) bool { return e.Token == entry.Token })
	entries = append(entries, entry)
	return ia.writeActiveSessions(ctx, userID, entries)
}

func (ia *InternalAdapter) removeActiveSession(ctx context.Context, userID, token string) error {
	key := activeSessionsPrefix + userID
	if sets, ok := ia.secondary.(SetStorage); ok {
		if err := sets.SetRemove(ctx, key, token); err != nil {
			return internalError("failed to update session index", err)
		}
		return nil
	}
	defer ia.indexLocks.lock(key)()
	entries, err := ia.readActiveSessions(ctx, userID)
	if err != nil {
		return err
	}
	entries = slices.DeleteFunc(entries, func(e activeSession) bool { return e.Token == token })
	return ia.writeActiveSessions(ctx, userID, entries)
}

// clearActiveSessions deletes the index of userID and returns the tokens it
// held. Without SetStorage the read and the delete share the index lock so
// that a concurrent put cannot land in between.
func (ia *InternalAdapter) clearActiveSessions(ctx context.Context, userID string) ([]string, error) {
	key := activeSessionsPrefix + userID
	if _, ok := ia.secondary.(SetStorage); !ok {
		defer ia.indexLocks.lock(key)()
	}
	tokens, err := ia.activeSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := ia.secondary.Delete(ctx, key); err != nil {
		return nil, internalError("failed to delete session index", err)
	}
	return tokens, nil
}

// readActiveSessions decodes the JSON index kept in plain key/value
// storage, dropping expired entries.
func (ia *InternalAdapter) readActiveSessions(ctx context.Context, userID string) ([]activeSession, error) {
	raw, found, err := ia.secondary.Get(ctx, activeSessionsPrefix+userID)
	if err != nil {
		return nil, internalError("failed to read session index", err)
	}
	if !found {
		return nil, nil
	}
	var entries []activeSession
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		ia.logger.Warn("discarding unreadable session index", "userId", userID, "error", err)
		return nil, nil
	}
	now := ia.clock.Now().UnixMilli()
	return slices.DeleteFunc(entries, func(e activeSession) bool { return e.ExpiresAt <= now }), nil
}

func (ia *InternalAdapter) writeActiveSessions(ctx context.Context, userID string, entries []activeSession) error {
	key := activeSessionsPrefix + userID
	if len(entries) == 0 {
		if err := ia.secondary.Delete(ctx, key); err != nil {
			return internalError("failed to delete session index", err)
		}
		return nil
	}
	var latest int64
	for _, e := range entries {
		latest = max(latest, e.ExpiresAt)
	}
	ttl := time.UnixMilli(latest).Sub(ia.clock.Now())
	raw, err := json.Marshal(entries)
	if err != nil {
		return internalError("failed to encode session index", err)
	}
	if err := ia.secondary.Set(ctx, key, string(raw), ttl); err != nil {
		return internalError("failed to store session index", err)
	}
	return nil
}

// keyLocks serialises read-modify-write cycles on the same key within the
// process.
type keyLocks [64]sync.Mutex

func (l *keyLocks) lock(key string) (unlock func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	m := &l[h.Sum32()%uint32(len(l))]
	m.Lock()
	return m.Unlock
}
