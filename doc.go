// Package authcore is an embeddable authentication core for Go services.
//
// It keeps users, their linked accounts, sessions and one time verification
// tokens in any database reachable through the Adapter interface, and
// exposes sign up, sign in, session management, OAuth account linking and
// user management both as Go methods and as an HTTP API.
//
// # Data Model
//
// User: A person, identified by a unique email address.
//
// Account: A way to sign in as a user. Email and password sign in is an
// account with providerId "credential" that stores the password hash.
// OAuth providers add one account per (providerId, accountId) pair and keep
// the provider's tokens on it.
//
// Session: A random bearer token with an expiry, bound to a user. Sessions
// are refreshed on use and can be cached in a signed cookie.
//
// Verification: A short lived identifier/value pair used for email
// verification, password reset, OAuth state and similar flows.
//
// Table and column names, extra fields and plugin models are described by a
// Schema; adapters translate between logical field names and storage names.
//
// # Basic Usage
//
//	import (
//	    ac "github.com/panyam/authcore"
//	    "github.com/panyam/authcore/oauth2"
//	    "github.com/panyam/authcore/stores/memory"
//	)
//
//	auth, err := ac.New(ac.Options{
//	    BaseURL:     "https://yourapp.com",
//	    Secret:      os.Getenv("AUTHCORE_SECRET"),
//	    Database:    memory.NewAdapter(),
//	    EmailSender: &ac.ConsoleEmailSender{},
//	    Providers:   []ac.Provider{oauth2.NewGoogleOAuth2("", "")},
//	})
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/auth/", auth.Handler())
//	mux.Handle("/app/", auth.RequireSession(appHandler))
//
// Handlers behind RequireSession read the caller with SessionFromContext or
// UserIDFromContext. gRPC services use the interceptors in the grpc package.
//
// # Store Implementations
//
// The stores package has adapters for memory, the filesystem, GORM (SQLite,
// Postgres) and Cloud Datastore, and secondary storage on Redis or any scs
// session store. stores/storetest holds the conformance suites every
// implementation runs.
//
// # Security
//
// Passwords are hashed with argon2id by default. Session tokens carry 32
// random bytes; the session cookie holds the token with an HMAC
// signature. Cookie cache snapshots and OAuth state are HS256 JWTs signed
// with the server secret, and OAuth flows use PKCE. Requests under the base
// path pass a fixed window rate limiter.
//
// # Testing
//
// Everything runs against stores/memory with a clockwork fake clock, so
// expiry and refresh can be tested without sleeping. HTTP flows are tested
// with httptest against Handler.
package authcore
