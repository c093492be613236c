package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"linkgate.org/internal/auth"
	"linkgate.org/internal/broadcast"
	"linkgate.org/internal/federation"
	"linkgate.org/internal/obs"
	"linkgate.org/internal/provider"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target, err := a.opts.Controller.InitiateLogin(r.Context(), q.Get("client_token"), q.Get("sharing_token"))
	if err != nil {
		a.internalError(w, r, "initiate login failed", err)
		return
	}
	a.opts.Redirector.Redirect(w, r, target)
}

func (a *API) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.opts.Controller.HandleCallback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		a.internalError(w, r, "callback failed", err)
		return
	}

	switch res.Outcome {
	case federation.OutcomeStateInvalid:
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid application state",
			"outcome": res.Outcome,
		})
	case federation.OutcomeTokenError, federation.OutcomeIdentityError:
		writeProviderError(w, res.Outcome, res.Err)
	case federation.OutcomeLinked:
		if err := a.startSession(w, res.UserID); err != nil {
			a.internalError(w, r, "issue session failed", err)
			return
		}
		a.opts.Redirector.Redirect(w, r, a.opts.HomePage)
	case federation.OutcomeUnlinkedNeedsConnect:
		token, expires, err := a.opts.Sessions.IssueLink(res.RemoteID)
		if err != nil {
			a.internalError(w, r, "issue pending link failed", err)
			return
		}
		a.setCookie(w, a.linkCookieName(), token, expires)
		a.opts.Redirector.Redirect(w, r, a.connectPage(res.RemoteID, ""))
	default:
		a.internalError(w, r, "callback failed", fmt.Errorf("unexpected outcome %q", res.Outcome))
	}
}

func writeProviderError(w http.ResponseWriter, outcome federation.Outcome, perr *provider.Error) {
	status := http.StatusBadGateway
	body := map[string]any{"outcome": outcome, "error": "identity provider error"}
	if perr != nil {
		if perr.Kind == provider.ErrorKindNetwork {
			status = http.StatusServiceUnavailable
			body["error"] = "identity provider unreachable"
		}
		body["kind"] = perr.Kind
		if perr.Code != "" {
			body["code"] = perr.Code
		}
		if perr.Message != "" {
			body["message"] = perr.Message
		}
	}
	writeJSON(w, status, body)
}

func (a *API) connectPage(remoteID, errCode string) string {
	q := url.Values{}
	q.Set("remote_id", remoteID)
	if errCode != "" {
		q.Set("error", errCode)
	}
	return a.opts.ConnectPage + "?" + q.Encode()
}

// handleConnect links a local account to the remote identity carried by the pending-link
// cookie set during the callback.
func (a *API) handleConnect(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(a.linkCookieName())
	if err != nil || cookie.Value == "" {
		writeError(w, r, http.StatusBadRequest, "no pending remote identity")
		return
	}
	remoteID, err := a.opts.Sessions.ParseLink(cookie.Value)
	if err != nil {
		a.clearCookie(w, a.linkCookieName())
		writeError(w, r, http.StatusBadRequest, "pending remote identity expired")
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.opts.Controller.ConnectAccount(r.Context(), stringField(body, "login_name"), stringField(body, "login_password"), remoteID)
	if err != nil {
		a.internalError(w, r, "connect account failed", err)
		return
	}
	switch res.Outcome {
	case federation.LinkLinked:
		a.clearCookie(w, a.linkCookieName())
		if err := a.startSession(w, res.UserID); err != nil {
			a.internalError(w, r, "issue session failed", err)
			return
		}
		a.opts.Redirector.Redirect(w, r, a.opts.HomePage)
	case federation.LinkInvalidCredentials:
		a.opts.Redirector.Redirect(w, r, a.connectPage(remoteID, "invalid_credentials"))
	case federation.LinkAlreadyLinked:
		a.opts.Redirector.Redirect(w, r, a.connectPage(remoteID, "already_linked"))
	default:
		a.internalError(w, r, "connect account failed", fmt.Errorf("unexpected outcome %q", res.Outcome))
	}
}

func (a *API) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ev := federation.Event{
		Type:      stringField(body, "type"),
		UserToken: stringField(body, "user_token"),
		Payload:   make(map[string]any, len(body)),
	}
	for k, v := range body {
		if k == "user_token" || k == "type" {
			continue
		}
		ev.Payload[k] = v
	}

	res, err := a.opts.Webhooks.Handle(r.Context(), ev)
	if err != nil {
		a.internalError(w, r, "webhook failed", err)
		return
	}
	switch res {
	case federation.WebhookOK:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case federation.WebhookUnknownUser:
		writeError(w, r, http.StatusNotFound, "user not found")
	case federation.WebhookUnrecognized:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
	default:
		a.internalError(w, r, "webhook failed", fmt.Errorf("unexpected result %q", res))
	}
}

func (a *API) handleChannelAuth(w http.ResponseWriter, r *http.Request) {
	if a.opts.Channels == nil {
		writeError(w, r, http.StatusServiceUnavailable, "channel authorization disabled")
		return
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	body, err := decodeBody(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := a.opts.Channels.Authorize(userID, stringField(body, "socket_id"), stringField(body, "channel_name"))
	switch {
	case errors.Is(err, broadcast.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case err != nil:
		a.internalError(w, r, "channel authorization failed", err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"auth": sig})
	}
}

// handleEvents streams events of one authorized private channel as server-sent events.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.opts.Channels == nil || a.opts.Hub == nil {
		writeError(w, r, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	q := r.URL.Query()
	channel := q.Get("channel")
	userID, err := a.opts.Channels.Verify(q.Get("auth"), channel)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	logger := obs.LoggerFrom(ctx).With(zap.String("channel", channel), zap.String("user_id", userID))
	events := a.opts.Hub.Subscribe(ctx, channel)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(a.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(msg.Data)
			if err != nil {
				logger.Warn("encode event failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
