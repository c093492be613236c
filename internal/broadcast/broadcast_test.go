package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestChannelNameRoundTrip(t *testing.T) {
	ch := ChannelName("Linkgate-Kill", "42")
	assert.Equal(t, "private-Linkgate-Kill.42", ch)

	id, ok := ChannelUserID(ch)
	require.True(t, ok)
	assert.Equal(t, "42", id)

	id, ok = ChannelUserID("private-ns.with.dots.7")
	require.True(t, ok)
	assert.Equal(t, "7", id)

	for _, bad := range []string{"public-ns.1", "private-ns", "private-ns."} {
		_, ok = ChannelUserID(bad)
		assert.False(t, ok, bad)
	}
}

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestHubDeliversOnlyToChannel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine := hub.Subscribe(ctx, "private-ns.1")
	other := hub.Subscribe(ctx, "private-ns.2")

	n := hub.Publish(Message{Channel: "private-ns.1", Event: "logout"})
	assert.Equal(t, 1, n)
	assert.Equal(t, "logout", recv(t, mine).Event)

	select {
	case m := <-other:
		t.Fatalf("unexpected delivery: %+v", m)
	default:
	}
}

func TestHubUnsubscribesOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "c")
	require.Equal(t, 1, hub.Subscribers("c"))

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("c"))
}

func TestBroadcasterWithoutRelay(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "private-ns.9")

	b := NewBroadcaster(hub, nil)
	require.NoError(t, b.Broadcast(ctx, "private-ns.9", "logout", map[string]any{"message": ""}))

	m := recv(t, ch)
	assert.Equal(t, "logout", m.Event)
	assert.Equal(t, "", m.Data["message"])
	assert.False(t, m.SentAt.IsZero())
}

func TestRelaySkipsOwnEchoes(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := hub.Subscribe(ctx, "private-ns.1")
	relay := NewRedisRelay(nil, "", "node-a", hub)
	assert.Equal(t, DefaultTopic, relay.topic)

	own, err := json.Marshal(Message{Channel: "private-ns.1", Event: "logout", Origin: "node-a"})
	require.NoError(t, err)
	relay.deliver(zap.NewNop(), string(own))

	foreign, err := json.Marshal(Message{Channel: "private-ns.1", Event: "logout", Origin: "node-b"})
	require.NoError(t, err)
	relay.deliver(zap.NewNop(), string(foreign))
	relay.deliver(zap.NewNop(), "{not json")

	m := recv(t, ch)
	assert.Equal(t, "node-b", m.Origin)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra delivery: %+v", extra)
	default:
	}
}

func TestAuthorizer(t *testing.T) {
	a, err := NewAuthorizer("app-key", "channel-secret", time.Minute)
	require.NoError(t, err)
	channel := ChannelName("ns", "u1")

	signed, err := a.Authorize("u1", "123.456", channel)
	require.NoError(t, err)
	assert.Contains(t, signed, "app-key:")

	user, err := a.Verify(signed, channel)
	require.NoError(t, err)
	assert.Equal(t, "u1", user)

	_, err = a.Verify(signed, ChannelName("ns", "u2"))
	assert.ErrorIs(t, err, ErrInvalidAuth)
	_, err = a.Verify("other-key:"+signed[len("app-key:"):], channel)
	assert.ErrorIs(t, err, ErrInvalidAuth)

	_, err = a.Authorize("u2", "123.456", channel)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = a.Authorize("", "123.456", channel)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizerExpiry(t *testing.T) {
	a, err := NewAuthorizer("k", "s", time.Minute)
	require.NoError(t, err)
	channel := ChannelName("ns", "u1")
	signed, err := a.Authorize("u1", "1.1", channel)
	require.NoError(t, err)

	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = a.Verify(signed, channel)
	assert.ErrorIs(t, err, ErrInvalidAuth)
}
