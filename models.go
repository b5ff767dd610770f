package authcore

import (
	"encoding/json"
	"slices"
	"time"
)

var (
	userCoreFields    = []string{"id", "name", "email", "emailVerified", "image", "createdAt", "updatedAt"}
	sessionCoreFields = []string{"id", "token", "userId", "expiresAt", "ipAddress", "userAgent", "dontRememberMe", "createdAt", "updatedAt"}
)

// User is the typed view of a user record. Additional holds fields
// contributed by plugins and the application.
type User struct {
	ID            string
	Name          string
	Email         string
	EmailVerified bool
	Image         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Additional    map[string]any
}

// UserFromRecord builds a User from a logical record.
func UserFromRecord(r Record) *User {
	if r == nil {
		return nil
	}
	return &User{
		ID:            r.String("id"),
		Name:          r.String("name"),
		Email:         r.String("email"),
		EmailVerified: r.Bool("emailVerified"),
		Image:         r.String("image"),
		CreatedAt:     r.Time("createdAt"),
		UpdatedAt:     r.Time("updatedAt"),
		Additional:    extraFields(r, userCoreFields),
	}
}

// Record returns the logical record of the user.
func (u *User) Record() Record {
	r := Record{}
	for k, v := range u.Additional {
		r[k] = v
	}
	r["id"] = u.ID
	r["name"] = u.Name
	r["email"] = u.Email
	r["emailVerified"] = u.EmailVerified
	if u.Image != "" {
		r["image"] = u.Image
	}
	r["createdAt"] = u.CreatedAt
	r["updatedAt"] = u.UpdatedAt
	return r
}

func (u *User) MarshalJSON() ([]byte, error) { return json.Marshal(u.Record()) }

func (u *User) UnmarshalJSON(data []byte) error {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*u = *UserFromRecord(r)
	return nil
}

// Session is the typed view of a session record.
type Session struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	IPAddress string
	UserAgent string

	// DontRememberMe marks sessions created without "remember me". They
	// are never refreshed.
	DontRememberMe bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Additional     map[string]any
}

func SessionFromRecord(r Record) *Session {
	if r == nil {
		return nil
	}
	return &Session{
		ID:             r.String("id"),
		Token:          r.String("token"),
		UserID:         r.String("userId"),
		ExpiresAt:      r.Time("expiresAt"),
		IPAddress:      r.String("ipAddress"),
		UserAgent:      r.String("userAgent"),
		DontRememberMe: r.Bool("dontRememberMe"),
		CreatedAt:      r.Time("createdAt"),
		UpdatedAt:      r.Time("updatedAt"),
		Additional:     extraFields(r, sessionCoreFields),
	}
}

func (s *Session) Record() Record {
	r := Record{}
	for k, v := range s.Additional {
		r[k] = v
	}
	r["id"] = s.ID
	r["token"] = s.Token
	r["userId"] = s.UserID
	r["expiresAt"] = s.ExpiresAt
	if s.IPAddress != "" {
		r["ipAddress"] = s.IPAddress
	}
	if s.UserAgent != "" {
		r["userAgent"] = s.UserAgent
	}
	if s.DontRememberMe {
		r["dontRememberMe"] = true
	}
	r["createdAt"] = s.CreatedAt
	r["updatedAt"] = s.UpdatedAt
	return r
}

// Expired reports whether the session has expired at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *Session) MarshalJSON() ([]byte, error) { return json.Marshal(s.Record()) }

func (s *Session) UnmarshalJSON(data []byte) error {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*s = *SessionFromRecord(r)
	return nil
}

// SessionWithUser is a resolved session together with its owner.
type SessionWithUser struct {
	Session *Session `json:"session"`
	User    *User    `json:"user"`
}

// Account links a user to a credential or an OAuth provider identity.
// Secrets are never serialised.
type Account struct {
	ID                    string     `json:"id"`
	AccountID             string     `json:"accountId"`
	ProviderID            string     `json:"providerId"`
	UserID                string     `json:"userId"`
	AccessToken           string     `json:"-"`
	RefreshToken          string     `json:"-"`
	IDToken               string     `json:"-"`
	AccessTokenExpiresAt  *time.Time `json:"-"`
	RefreshTokenExpiresAt *time.Time `json:"-"`
	Scope                 string     `json:"scope,omitempty"`
	Password              string     `json:"-"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

func AccountFromRecord(r Record) *Account {
	if r == nil {
		return nil
	}
	return &Account{
		ID:                    r.String("id"),
		AccountID:             r.String("accountId"),
		ProviderID:            r.String("providerId"),
		UserID:                r.String("userId"),
		AccessToken:           r.String("accessToken"),
		RefreshToken:          r.String("refreshToken"),
		IDToken:               r.String("idToken"),
		AccessTokenExpiresAt:  optionalTime(r, "accessTokenExpiresAt"),
		RefreshTokenExpiresAt: optionalTime(r, "refreshTokenExpiresAt"),
		Scope:                 r.String("scope"),
		Password:              r.String("password"),
		CreatedAt:             r.Time("createdAt"),
		UpdatedAt:             r.Time("updatedAt"),
	}
}

// Verification is a short lived secret: email verification, password
// reset, deferred deletion or OAuth state.
type Verification struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Value      string    `json:"value"`
	ExpiresAt  time.Time `json:"expiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func VerificationFromRecord(r Record) *Verification {
	if r == nil {
		return nil
	}
	return &Verification{
		ID:         r.String("id"),
		Identifier: r.String("identifier"),
		Value:      r.String("value"),
		ExpiresAt:  r.Time("expiresAt"),
		CreatedAt:  r.Time("createdAt"),
		UpdatedAt:  r.Time("updatedAt"),
	}
}

// RateLimit is a fixed window counter. LastRequest holds the window start
// in unix milliseconds.
type RateLimit struct {
	Key         string `json:"key"`
	Count       int64  `json:"count"`
	LastRequest int64  `json:"lastRequest"`
}

func optionalTime(r Record, key string) *time.Time {
	t := r.Time(key)
	if t.IsZero() {
		return nil
	}
	return &t
}

func extraFields(r Record, core []string) map[string]any {
	var extra map[string]any
	for k, v := range r {
		if slices.Contains(core, k) {
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[k] = v
	}
	return extra
}
