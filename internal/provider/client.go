// Package provider talks to the remote identity provider: it builds the authorization
// redirect, exchanges authorization codes, fetches the resource owner and resolves the
// one-time user tokens carried by webhooks.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultScope          = "default-client-access"
	defaultRequestTimeout = 10 * time.Second
	maxResponseBodyBytes  = 1 << 20 // 1 MiB
)

// HTTPDoer is the subset of *http.Client the client needs.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config describes one remote provider registration.
type Config struct {
	ClientID     string
	ClientSecret string
	Scope        string
	RedirectURL  string
	AuthorizeURL string
	TokenURL     string
	ResourceURL  string
	TokenUserURL string
	// RequestTimeout bounds every outbound call.
	RequestTimeout time.Duration
	HTTPClient     HTTPDoer
}

// Token is the result of a successful code exchange.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
}

// Identity is the resource owner as reported by the provider. It is never persisted as is.
type Identity struct {
	RemoteID   string
	Attributes map[string]any
}

// Client performs the outbound calls of the authorization-code flow.
type Client struct {
	cfg  Config
	http HTTPDoer
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	cfg.ClientSecret = strings.TrimSpace(cfg.ClientSecret)
	cfg.AuthorizeURL = strings.TrimSpace(cfg.AuthorizeURL)
	cfg.TokenURL = strings.TrimSpace(cfg.TokenURL)
	cfg.ResourceURL = strings.TrimSpace(cfg.ResourceURL)
	cfg.TokenUserURL = strings.TrimSpace(cfg.TokenUserURL)
	cfg.RedirectURL = strings.TrimSpace(cfg.RedirectURL)
	if cfg.ClientID == "" {
		return nil, errors.New("provider: client id is required")
	}
	for name, v := range map[string]string{
		"authorize url":  cfg.AuthorizeURL,
		"token url":      cfg.TokenURL,
		"resource url":   cfg.ResourceURL,
		"token user url": cfg.TokenUserURL,
		"redirect url":   cfg.RedirectURL,
	} {
		if v == "" {
			return nil, fmt.Errorf("provider: %s is required", name)
		}
	}
	if strings.TrimSpace(cfg.Scope) == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	doer := cfg.HTTPClient
	if doer == nil {
		doer = &http.Client{Timeout: cfg.RequestTimeout}
	}
	return &Client{cfg: cfg, http: doer}, nil
}

// AuthorizationURL composes the browser redirect to the provider. Parameters are emitted
// in a fixed order: client_id, scope, response_type, redirect_uri, state, then client_token
// and sharing_token when non-empty.
func (c *Client) AuthorizationURL(state, clientToken, sharingToken string) string {
	params := [][2]string{
		{"client_id", c.cfg.ClientID},
		{"scope", c.cfg.Scope},
		{"response_type", "code"},
		{"redirect_uri", c.cfg.RedirectURL},
		{"state", state},
	}
	if clientToken != "" {
		params = append(params, [2]string{"client_token", clientToken})
	}
	if sharingToken != "" {
		params = append(params, [2]string{"sharing_token", sharingToken})
	}

	var b strings.Builder
	b.WriteString(c.cfg.AuthorizeURL)
	if strings.Contains(c.cfg.AuthorizeURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p[0]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p[1]))
	}
	return b.String()
}

// ExchangeCode trades an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Token, error) {
	const op = "exchange code"
	code = strings.TrimSpace(code)
	if code == "" {
		return Token{}, providerError(op, "invalid_request", "authorization code is missing")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURL)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)

	payload, err := c.postForm(ctx, op, c.cfg.TokenURL, form)
	if err != nil {
		return Token{}, err
	}
	tok := Token{
		AccessToken: readString(payload["access_token"]),
		TokenType:   readString(payload["token_type"]),
		ExpiresIn:   readInt64(payload["expires_in"]),
	}
	if tok.AccessToken == "" {
		return Token{}, providerError(op, "invalid_response", "token response is missing access_token")
	}
	return tok, nil
}

// FetchIdentity loads the resource owner for an access token.
func (c *Client) FetchIdentity(ctx context.Context, accessToken string) (Identity, error) {
	const op = "fetch identity"
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.ResourceURL, nil)
	if err != nil {
		return Identity{}, networkError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	payload, err := c.do(op, req)
	if err != nil {
		return Identity{}, err
	}
	id, ok := readID(payload["user"])
	if !ok {
		return Identity{}, providerError(op, "invalid_response", "identity response has no usable user id")
	}
	delete(payload, "user")
	return Identity{RemoteID: id, Attributes: payload}, nil
}

// ResolveUserToken maps a webhook user token to the stable remote identity id. Any failure
// is reported as not found.
func (c *Client) ResolveUserToken(ctx context.Context, userToken string) (string, bool) {
	userToken = strings.TrimSpace(userToken)
	if userToken == "" {
		return "", false
	}
	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("token", userToken)

	payload, err := c.postForm(ctx, "resolve user token", c.cfg.TokenUserURL, form)
	if err != nil {
		return "", false
	}
	return readID(payload["user"])
}

func (c *Client) postForm(ctx context.Context, op, endpoint string, form url.Values) (map[string]any, error) {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, networkError(op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(op, req)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req under the per-request timeout and decodes a JSON object. OAuth error
// payloads and non-2xx statuses become provider errors; transport failures become network
// errors.
func (c *Client) do(op string, req *http.Request) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(req.Context(), c.cfg.RequestTimeout)
	defer cancel()

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, networkError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes+1))
	if err != nil {
		return nil, networkError(op, err)
	}
	if int64(len(body)) > maxResponseBodyBytes {
		return nil, providerError(op, "invalid_response", fmt.Sprintf("response exceeds %d bytes", maxResponseBodyBytes))
	}

	var payload map[string]any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	decodeErr := dec.Decode(&payload)
	if decodeErr == nil {
		if code := readString(payload["error"]); code != "" {
			return nil, providerError(op, code, readString(payload["error_description"]))
		}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, providerError(op, "http_"+strconv.Itoa(resp.StatusCode), http.StatusText(resp.StatusCode))
	}
	if decodeErr != nil {
		return nil, providerError(op, "invalid_response", "response is not a JSON object")
	}
	return payload, nil
}

func readString(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	default:
		return ""
	}
}

// readID accepts a remote identity id only as a non-empty string or an exact JSON number.
func readID(v any) (string, bool) {
	switch typed := v.(type) {
	case string:
		id := strings.TrimSpace(typed)
		return id, id != ""
	case json.Number:
		return typed.String(), true
	default:
		return "", false
	}
}

func readInt64(v any) int64 {
	switch typed := v.(type) {
	case json.Number:
		n, _ := typed.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		return n
	}
	return 0
}
