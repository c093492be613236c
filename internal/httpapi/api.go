// Package httpapi exposes the federation flows over HTTP.
package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"linkgate.org/internal/auth"
	"linkgate.org/internal/broadcast"
	"linkgate.org/internal/federation"
	"linkgate.org/internal/obs"
)

const defaultMaxBodyBytes = 1 << 20

// ReadyProbe pings the backing stores that are configured.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Options wires the API to its collaborators.
type Options struct {
	Controller *federation.Controller
	Webhooks   *federation.WebhookProcessor
	Sessions   *auth.Sessions
	Accounts   auth.AccountStore
	Channels   *broadcast.Authorizer
	Hub        *broadcast.Hub
	Redirector Redirector
	Ready      ReadyProbe
	Version    string

	PasswordsAllowed bool
	CookieName       string
	SecureCookies    bool
	ConnectPage      string
	WarningPage      string
	HomePage         string
	MaxBodyBytes     int64
	// KeepAlive is the SSE comment interval; zero uses 25s.
	KeepAlive time.Duration
}

// API is the HTTP layer.
type API struct {
	opts   Options
	router chi.Router
}

func New(opts Options) (*API, error) {
	switch {
	case opts.Controller == nil:
		return nil, errors.New("httpapi: controller is required")
	case opts.Webhooks == nil:
		return nil, errors.New("httpapi: webhook processor is required")
	case opts.Sessions == nil:
		return nil, errors.New("httpapi: sessions are required")
	case opts.Accounts == nil:
		return nil, errors.New("httpapi: account store is required")
	}
	if opts.Redirector == nil {
		opts.Redirector = HTTPRedirector{}
	}
	if opts.CookieName == "" {
		opts.CookieName = "linkgate_session"
	}
	if opts.ConnectPage == "" {
		opts.ConnectPage = "/connect"
	}
	if opts.WarningPage == "" {
		opts.WarningPage = "/login?warning=remote-required"
	}
	if opts.HomePage == "" {
		opts.HomePage = "/"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 25 * time.Second
	}

	a := &API{opts: opts}
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, MaxBodyBytes(opts.MaxBodyBytes))

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Handle("/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.withSession)
		r.HandleFunc("/federation/{action}", a.dispatch)
		r.Post("/login", a.handlePasswordLogin)
		r.Post("/logout", a.handleLogout)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	a.router = r
	return a, nil
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "linkgate-api",
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.opts.Ready.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// dispatch routes /federation/{action} through the Action enum.
func (a *API) dispatch(w http.ResponseWriter, r *http.Request) {
	action := ParseAction(chi.URLParam(r, "action"))
	if action == ActionUnknown {
		writeError(w, r, http.StatusNotFound, "unknown action")
		return
	}
	if r.Method != action.Method() {
		methodNotAllowed(w, r, action.Method())
		return
	}
	switch action {
	case ActionLogin:
		a.handleLogin(w, r)
	case ActionRedirect:
		a.handleCallback(w, r)
	case ActionWebhook:
		a.handleWebhook(w, r)
	case ActionConnect:
		a.handleConnect(w, r)
	case ActionChannelAuth:
		a.handleChannelAuth(w, r)
	case ActionEvents:
		a.handleEvents(w, r)
	case ActionUnknown:
		writeError(w, r, http.StatusNotFound, "unknown action")
	}
}
