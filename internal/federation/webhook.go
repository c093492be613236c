package federation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"linkgate.org/internal/audit"
	"linkgate.org/internal/auth"
	"linkgate.org/internal/broadcast"
	"linkgate.org/internal/obs"
)

// EventType is a recognized webhook event.
type EventType string

const (
	EventRemoteLogout EventType = "REMOTE_LOGOUT"
	EventUnlink       EventType = "UNLINK"
	EventUnknown      EventType = ""
)

// LogoutEvent is the real-time event name sent to a user's private channel.
const LogoutEvent = "logout"

const defaultBroadcastTimeout = 5 * time.Second

// ParseEventType maps the provider's wire names onto EventType.
func ParseEventType(raw string) EventType {
	switch strings.TrimSpace(raw) {
	case "User_Logged_Out", "REMOTE_LOGOUT":
		return EventRemoteLogout
	case "Meveto_Protection_Removed", "UNLINK":
		return EventUnlink
	default:
		return EventUnknown
	}
}

// Event is one inbound provider notification. Payload holds the remaining body fields.
type Event struct {
	Type      string
	UserToken string
	Payload   map[string]any
}

// TokenResolver maps a webhook user token to a remote identity id.
type TokenResolver interface {
	ResolveUserToken(ctx context.Context, userToken string) (string, bool)
}

// Broadcaster delivers real-time events to subscribed browsers.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel, event string, data map[string]any) error
}

// WebhookProcessor applies provider notifications to the session fence.
type WebhookProcessor struct {
	resolver  TokenResolver
	links     auth.LinkStore
	fence     SessionFence
	bus       Broadcaster
	namespace string
	timeout   time.Duration
}

// WebhookOption customises a WebhookProcessor.
type WebhookOption func(*WebhookProcessor)

// WithBroadcastTimeout bounds how long a logout broadcast may take.
func WithBroadcastTimeout(d time.Duration) WebhookOption {
	return func(p *WebhookProcessor) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// NewWebhookProcessor builds a processor broadcasting logouts on channels under namespace.
func NewWebhookProcessor(resolver TokenResolver, links auth.LinkStore, fence SessionFence, bus Broadcaster, namespace string, opts ...WebhookOption) *WebhookProcessor {
	p := &WebhookProcessor{
		resolver:  resolver,
		links:     links,
		fence:     fence,
		bus:       bus,
		namespace: namespace,
		timeout:   defaultBroadcastTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle resolves the event's user and applies it. Storage failures are returned; every
// other path maps to a WebhookResult.
func (p *WebhookProcessor) Handle(ctx context.Context, ev Event) (WebhookResult, error) {
	kind := ParseEventType(ev.Type)
	res, err := p.handle(ctx, kind, ev)
	if err == nil {
		label := string(kind)
		if kind == EventUnknown {
			label = "unrecognized"
		}
		obs.ObserveWebhook(label, string(res))
	}
	return res, err
}

func (p *WebhookProcessor) handle(ctx context.Context, kind EventType, ev Event) (WebhookResult, error) {
	remoteID, ok := p.resolver.ResolveUserToken(ctx, ev.UserToken)
	if !ok {
		return WebhookUnknownUser, nil
	}
	userID, err := p.links.UserForRemote(ctx, remoteID)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		if kind == EventUnlink {
			// nothing left to unlink; acknowledge so the provider stops retrying
			return WebhookOK, nil
		}
		return WebhookUnknownUser, nil
	case err != nil:
		return "", fmt.Errorf("lookup link: %w", err)
	}

	switch kind {
	case EventRemoteLogout:
		if err := p.fence.RecordLogout(ctx, userID); err != nil {
			return "", err
		}
		_ = audit.LogEvent(ctx, audit.EventWebhookLogout, map[string]any{"local_user_id": userID, "remote_id": remoteID})
		p.broadcastLogout(ctx, userID, ev)
		return WebhookOK, nil
	case EventUnlink:
		if err := p.links.Unlink(ctx, userID); err != nil {
			return "", fmt.Errorf("unlink: %w", err)
		}
		if err := p.fence.Clear(ctx, userID); err != nil {
			return "", err
		}
		_ = audit.LogEvent(ctx, audit.EventWebhookUnlink, map[string]any{"local_user_id": userID, "remote_id": remoteID})
		return WebhookOK, nil
	case EventUnknown:
		return WebhookUnrecognized, nil
	}
	return WebhookUnrecognized, nil
}

// broadcastLogout never fails the webhook: delivery errors are logged and counted.
func (p *WebhookProcessor) broadcastLogout(ctx context.Context, userID string, ev Event) {
	if p.bus == nil {
		return
	}
	data := make(map[string]any, len(ev.Payload)+2)
	for k, v := range ev.Payload {
		data[k] = v
	}
	data["type"] = ev.Type
	data["message"] = ""

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	channel := broadcast.ChannelName(p.namespace, userID)
	if err := p.bus.Broadcast(bctx, channel, LogoutEvent, data); err != nil {
		obs.ObserveBroadcastFailure()
		obs.LoggerFrom(ctx).Warn("logout broadcast failed", zap.String("channel", channel), zap.Error(err))
	}
}
