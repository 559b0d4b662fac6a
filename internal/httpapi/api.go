// Package httpapi is the thin HTTP facade over the identity core. All
// behavior lives in internal/identity; handlers translate JSON in and out.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"govdesk.org/internal/identity"
	"govdesk.org/internal/obs"
	"govdesk.org/internal/stream"
)

// ReadyProbe reports service readiness (database reachability).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API wires the identity engine to HTTP routes.
type API struct {
	mux        *http.ServeMux
	engine     *identity.Engine
	accounts   *identity.Accounts
	log        *zap.Logger
	readyProbe ReadyProbe
	events     *stream.Stream
	version    string

	rateBurst     int
	ratePerSecond int
}

// Option configures the API.
type Option func(*API)

// WithRateLimit overrides the per-IP token bucket on auth endpoints.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSecond > 0 {
			a.ratePerSecond = perSecond
		}
	}
}

// WithVersion sets the version string reported by health endpoints.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithEventStream enables the SSE feed of authentication events.
func WithEventStream(s *stream.Stream) Option {
	return func(a *API) { a.events = s }
}

// New constructs the API.
func New(engine *identity.Engine, accounts *identity.Accounts, log *zap.Logger, rp ReadyProbe, opts ...Option) *API {
	if log == nil {
		log = zap.NewNop()
	}
	a := &API{
		mux:           http.NewServeMux(),
		engine:        engine,
		accounts:      accounts,
		log:           log,
		readyProbe:    rp,
		version:       "dev",
		rateBurst:     10,
		ratePerSecond: 5,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReady)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/validate", a.handleValidate)
	a.mux.HandleFunc("/v1/me/permissions", a.handleMyPermissions)
	a.mux.HandleFunc("/v1/users", a.handleCreateUser)
	a.mux.HandleFunc("/v1/users/password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/events/auth", a.handleAuthEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = SecurityHeaders(h)
	h = Logging(a.log, h)
	return obs.Instrument(h)
}
