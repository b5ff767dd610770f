package authcore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	signIn         *prometheus.CounterVec
	signUp         prometheus.Counter
	rateLimited    *prometheus.CounterVec
	cookieCache    *prometheus.CounterVec
	sessionRefresh prometheus.Counter
	oauthCallback  *prometheus.CounterVec
}

// newMetrics builds the collectors and registers them on reg when given.
// Collectors already registered by another Auth instance are reused.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_sign_in_total",
			Help: "Sign-in attempts by method and result.",
		}, []string{"method", "result"}),
		signUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_sign_up_total",
			Help: "Users created through email sign-up.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by path.",
		}, []string{"path"}),
		cookieCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_cookie_cache_total",
			Help: "Cookie cache lookups by result.",
		}, []string{"result"}),
		sessionRefresh: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authcore_session_refresh_total",
			Help: "Sessions whose expiry was extended on use.",
		}),
		oauthCallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_oauth_callback_total",
			Help: "OAuth callbacks by provider and outcome.",
		}, []string{"provider", "outcome"}),
	}
	if reg == nil {
		return m
	}
	m.signIn = register(reg, m.signIn)
	m.signUp = register(reg, m.signUp)
	m.rateLimited = register(reg, m.rateLimited)
	m.cookieCache = register(reg, m.cookieCache)
	m.sessionRefresh = register(reg, m.sessionRefresh)
	m.oauthCallback = register(reg, m.oauthCallback)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
