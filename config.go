package authcore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
)

// Default values applied by ensureDefaults.
const (
	DefaultBasePath               = "/api/auth"
	DefaultCookiePrefix           = "authcore"
	DefaultSessionExpiresIn       = 7 * 24 * time.Hour
	DefaultSessionUpdateAge       = 24 * time.Hour
	DefaultSessionFreshAge        = 24 * time.Hour
	DontRememberMeExpiresIn       = 24 * time.Hour
	DefaultCookieCacheMaxAge      = 5 * time.Minute
	DefaultMinPasswordLength      = 8
	DefaultMaxPasswordLength      = 128
	DefaultResetPasswordExpiresIn = time.Hour
	DefaultVerificationExpiresIn  = time.Hour
	DefaultDeleteTokenExpiresIn   = 24 * time.Hour
	DefaultOAuthStateExpiresIn    = 10 * time.Minute
	DefaultRateLimitWindow        = 10 * time.Second
	DefaultRateLimitMax           = 100
)

// Options configures an Auth instance. Only Secret and Database are
// required; everything else has a default.
type Options struct {
	AppName string
	// BaseURL is the public origin of the server, e.g. https://example.com.
	BaseURL string
	// BasePath is the mount point of the HTTP handler. Defaults to /api/auth.
	BasePath string
	// Secret signs cookies, cookie cache snapshots and OAuth state.
	Secret string
	// TrustedOrigins are accepted as absolute callback URLs besides BaseURL.
	TrustedOrigins []string

	Database         Adapter
	SecondaryStorage SecondaryStorage

	Schema  SchemaOptions
	Plugins []Plugin
	IDs     IDGenerator
	Hooks   Hooks

	EmailAndPassword  EmailPasswordOptions
	EmailVerification EmailVerificationOptions
	User              UserOptions
	Session           SessionOptions
	Account           AccountOptions
	Verification      VerificationOptions
	RateLimit         RateLimitOptions
	Cookies           CookieOptions

	Providers      []Provider
	EmailSender    EmailSender
	PasswordHasher PasswordHasher

	// IPAddressHeaders are consulted in order for the client address. When
	// empty the connection's remote address is used.
	IPAddressHeaders []string

	Clock      clockwork.Clock
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

type EmailPasswordOptions struct {
	Disabled                 bool
	DisableSignUp            bool
	RequireEmailVerification bool
	// DisableAutoSignIn stops sign-up from creating a session.
	DisableAutoSignIn             bool
	MinPasswordLength             int
	MaxPasswordLength             int
	ResetPasswordTokenExpiresIn   time.Duration
	RevokeSessionsOnPasswordReset bool
}

type EmailVerificationOptions struct {
	SendOnSignUp                bool
	SendOnSignIn                bool
	AutoSignInAfterVerification bool
	ExpiresIn                   time.Duration
}

type UserOptions struct {
	ChangeEmail ChangeEmailOptions
	DeleteUser  DeleteUserOptions
}

type ChangeEmailOptions struct {
	Enabled bool
	// UpdateEmailWithoutVerification lets unverified users change email
	// directly.
	UpdateEmailWithoutVerification bool
}

type DeleteUserOptions struct {
	Enabled bool
	// SendVerification defers deletion until the emailed link is followed.
	SendVerification     bool
	DeleteTokenExpiresIn time.Duration
	BeforeDelete         func(ctx context.Context, user *User) error
	AfterDelete          func(ctx context.Context, user *User)
}

type SessionOptions struct {
	ExpiresIn time.Duration
	// UpdateAge is how often a session's expiry is pushed forward on use.
	// A negative value refreshes on every lookup.
	UpdateAge time.Duration
	// FreshAge bounds session age for sensitive operations. A negative value
	// disables the freshness check.
	FreshAge              time.Duration
	DisableSessionRefresh bool
	// StoreSessionInDatabase also writes sessions to the database when
	// secondary storage is configured.
	StoreSessionInDatabase bool
	// PreserveSessionInDatabase keeps revoked database sessions, expired in
	// place, instead of deleting them.
	PreserveSessionInDatabase bool
	CookieCache               CookieCacheOptions
}

type CookieCacheOptions struct {
	Enabled bool
	MaxAge  time.Duration
}

type AccountOptions struct {
	// DisableUpdateOnSignIn keeps stored OAuth tokens on social sign-in.
	DisableUpdateOnSignIn bool
	AccountLinking        AccountLinkingOptions
}

type AccountLinkingOptions struct {
	Disabled bool
	// TrustedProviders may link to an existing user by email even when the
	// provider does not report the email as verified.
	TrustedProviders     []string
	AllowDifferentEmails bool
	AllowUnlinkingAll    bool
}

type VerificationOptions struct {
	// DisableCleanup keeps expired verification records on lookup.
	DisableCleanup bool
}

type CookieOptions struct {
	Prefix string
	// Secure forces the Secure attribute and __Secure- prefix. It is
	// implied by an https BaseURL.
	Secure   bool
	SameSite http.SameSite
	// Domain is set on every cookie for cross subdomain sessions.
	Domain string
}

func (o *Options) ensureDefaults() {
	if o.AppName == "" {
		o.AppName = "authcore"
	}
	if o.BasePath == "" {
		o.BasePath = DefaultBasePath
	}
	o.BasePath = "/" + strings.Trim(o.BasePath, "/")
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")
	if o.IDs == nil {
		o.IDs = ULIDGenerator()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.EmailAndPassword.MinPasswordLength <= 0 {
		o.EmailAndPassword.MinPasswordLength = DefaultMinPasswordLength
	}
	if o.EmailAndPassword.MaxPasswordLength <= 0 {
		o.EmailAndPassword.MaxPasswordLength = DefaultMaxPasswordLength
	}
	if o.EmailAndPassword.ResetPasswordTokenExpiresIn <= 0 {
		o.EmailAndPassword.ResetPasswordTokenExpiresIn = DefaultResetPasswordExpiresIn
	}
	if o.EmailVerification.ExpiresIn <= 0 {
		o.EmailVerification.ExpiresIn = DefaultVerificationExpiresIn
	}
	if o.User.DeleteUser.DeleteTokenExpiresIn <= 0 {
		o.User.DeleteUser.DeleteTokenExpiresIn = DefaultDeleteTokenExpiresIn
	}
	if o.Session.ExpiresIn <= 0 {
		o.Session.ExpiresIn = DefaultSessionExpiresIn
	}
	if o.Session.UpdateAge < 0 {
		o.Session.UpdateAge = 0
	} else if o.Session.UpdateAge == 0 {
		o.Session.UpdateAge = DefaultSessionUpdateAge
	}
	if o.Session.FreshAge == 0 {
		o.Session.FreshAge = DefaultSessionFreshAge
	}
	if o.Session.CookieCache.MaxAge <= 0 {
		o.Session.CookieCache.MaxAge = DefaultCookieCacheMaxAge
	}
	if o.RateLimit.Window <= 0 {
		o.RateLimit.Window = DefaultRateLimitWindow
	}
	if o.RateLimit.Max <= 0 {
		o.RateLimit.Max = DefaultRateLimitMax
	}
	if o.RateLimit.Storage == "" {
		o.RateLimit.Storage = RateLimitMemory
		if o.SecondaryStorage != nil {
			o.RateLimit.Storage = RateLimitSecondaryStorage
		}
	}
	if o.Cookies.Prefix == "" {
		o.Cookies.Prefix = DefaultCookiePrefix
	}
	if o.Cookies.SameSite == 0 {
		o.Cookies.SameSite = http.SameSiteLaxMode
	}
	if strings.HasPrefix(o.BaseURL, "https://") {
		o.Cookies.Secure = true
	}
}

func (o *Options) validate() error {
	if o.Secret == "" {
		return NewConfigurationError("a secret is required")
	}
	if len(o.Secret) < 16 {
		return NewConfigurationError("the secret must be at least 16 characters")
	}
	if o.Database == nil {
		return NewConfigurationError("a database adapter is required")
	}
	if o.BaseURL != "" {
		if u, err := url.Parse(o.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			return NewConfigurationError(fmt.Sprintf("invalid base URL %q", o.BaseURL))
		}
	}
	if o.EmailAndPassword.MinPasswordLength > o.EmailAndPassword.MaxPasswordLength {
		return NewConfigurationError("minimum password length exceeds the maximum")
	}
	if o.Session.PreserveSessionInDatabase && o.SecondaryStorage != nil && !o.Session.StoreSessionInDatabase {
		return NewConfigurationError("preserving sessions in the database requires storing them there")
	}
	if o.RateLimit.Storage == RateLimitSecondaryStorage && o.SecondaryStorage == nil {
		return NewConfigurationError("secondary storage rate limiting requires secondary storage")
	}
	if o.RateLimit.Storage == RateLimitCustom && o.RateLimit.CustomStorage == nil {
		return NewConfigurationError("custom rate limit storage is not set")
	}
	if len(o.Providers) > 0 && o.BaseURL == "" {
		return NewConfigurationError("social providers require a base URL for their callbacks")
	}
	seen := map[string]bool{}
	for _, p := range o.Providers {
		if p == nil || p.ID() == "" {
			return NewConfigurationError("providers must have an id")
		}
		if seen[p.ID()] {
			return NewConfigurationError(fmt.Sprintf("duplicate provider %q", p.ID()))
		}
		seen[p.ID()] = true
	}
	return nil
}

// EnvConfig holds the settings that can come from the environment.
type EnvConfig struct {
	AppName           string        `env:"AUTHCORE_APP_NAME"`
	BaseURL           string        `env:"AUTHCORE_BASE_URL"`
	BasePath          string        `env:"AUTHCORE_BASE_PATH"`
	Secret            string        `env:"AUTHCORE_SECRET"`
	TrustedOrigins    []string      `env:"AUTHCORE_TRUSTED_ORIGINS" envSeparator:","`
	SessionExpiresIn  time.Duration `env:"AUTHCORE_SESSION_EXPIRES_IN"`
	SessionUpdateAge  time.Duration `env:"AUTHCORE_SESSION_UPDATE_AGE"`
	CookieCache       bool          `env:"AUTHCORE_COOKIE_CACHE"`
	RateLimitDisabled bool          `env:"AUTHCORE_RATE_LIMIT_DISABLED"`
	RateLimitWindow   time.Duration `env:"AUTHCORE_RATE_LIMIT_WINDOW"`
	RateLimitMax      int64         `env:"AUTHCORE_RATE_LIMIT_MAX"`
}

// ParseEnv reads EnvConfig from the process environment.
func ParseEnv() (EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return EnvConfig{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ApplyEnv copies the set values of cfg over o.
func (o *Options) ApplyEnv(cfg EnvConfig) {
	if cfg.AppName != "" {
		o.AppName = cfg.AppName
	}
	if cfg.BaseURL != "" {
		o.BaseURL = cfg.BaseURL
	}
	if cfg.BasePath != "" {
		o.BasePath = cfg.BasePath
	}
	if cfg.Secret != "" {
		o.Secret = cfg.Secret
	}
	if len(cfg.TrustedOrigins) > 0 {
		o.TrustedOrigins = append(o.TrustedOrigins, cfg.TrustedOrigins...)
	}
	if cfg.SessionExpiresIn > 0 {
		o.Session.ExpiresIn = cfg.SessionExpiresIn
	}
	if cfg.SessionUpdateAge > 0 {
		o.Session.UpdateAge = cfg.SessionUpdateAge
	}
	if cfg.CookieCache {
		o.Session.CookieCache.Enabled = true
	}
	if cfg.RateLimitDisabled {
		o.RateLimit.Disabled = true
	}
	if cfg.RateLimitWindow > 0 {
		o.RateLimit.Window = cfg.RateLimitWindow
	}
	if cfg.RateLimitMax > 0 {
		o.RateLimit.Max = cfg.RateLimitMax
	}
}
