package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"linkgate.org/internal/auth"
	"linkgate.org/internal/federation"
	"linkgate.org/internal/obs"
)

func (a *API) linkCookieName() string { return a.opts.CookieName + "_link" }

func (a *API) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *API) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// startSession issues the local session cookie for userID.
func (a *API) startSession(w http.ResponseWriter, userID string) error {
	token, expires, err := a.opts.Sessions.Issue(userID)
	if err != nil {
		return err
	}
	a.setCookie(w, a.opts.CookieName, token, expires)
	return nil
}

func (a *API) endSession(w http.ResponseWriter) {
	a.clearCookie(w, a.opts.CookieName)
}

// withSession attaches the session user to the context and terminates sessions that the
// provider logged out after they were established.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(a.opts.CookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.opts.Sessions.Parse(cookie.Value)
		if err != nil {
			a.endSession(w)
			next.ServeHTTP(w, r)
			return
		}
		userID := claims.Subject
		ctx := auth.ContextWithUser(r.Context(), userID)

		decision, err := a.opts.Controller.CheckActiveSession(ctx, userID)
		if err != nil {
			obs.LoggerFrom(ctx).Error("session check failed", zap.String("user_id", userID), zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if decision == federation.SessionForceLogout {
			a.endSession(w)
			if reauthenticates(r) {
				next.ServeHTTP(w, r)
				return
			}
			a.opts.Redirector.Redirect(w, r, a.opts.HomePage)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// reauthenticates reports whether r is a step of signing in again, which a fenced session
// must not block.
func reauthenticates(r *http.Request) bool {
	if r.URL.Path == "/login" {
		return true
	}
	rest, ok := strings.CutPrefix(r.URL.Path, "/federation/")
	if !ok {
		return false
	}
	switch ParseAction(rest) {
	case ActionLogin, ActionRedirect, ActionConnect:
		return true
	default:
		return false
	}
}

func (a *API) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	acct, err := auth.Authenticate(ctx, a.opts.Accounts, stringField(body, "login_name"), stringField(body, "login_password"))
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		a.internalError(w, r, "password login failed", err)
		return
	}

	decision, err := a.opts.Controller.CheckPasswordLogin(ctx, acct.ID, a.opts.PasswordsAllowed)
	if err != nil {
		a.internalError(w, r, "password login check failed", err)
		return
	}
	if decision == federation.PasswordDenyMustUseRemote {
		a.endSession(w)
		a.opts.Redirector.Redirect(w, r, a.opts.WarningPage)
		return
	}
	if err := a.startSession(w, acct.ID); err != nil {
		a.internalError(w, r, "issue session failed", err)
		return
	}
	a.opts.Redirector.Redirect(w, r, a.opts.HomePage)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	a.endSession(w)
	a.opts.Redirector.Redirect(w, r, a.opts.HomePage)
}

func (a *API) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	obs.LoggerFrom(r.Context()).Error(msg, zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "internal error")
}
