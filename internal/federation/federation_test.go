package federation

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkgate.org/internal/auth"
	"linkgate.org/internal/provider"
)

type fakeIDP struct {
	exchanges  int
	token      provider.Token
	tokenErr   error
	identity   provider.Identity
	identErr   error
	lastState  string
	lastClient string
	lastShare  string
}

func (f *fakeIDP) AuthorizationURL(state, clientToken, sharingToken string) string {
	f.lastState, f.lastClient, f.lastShare = state, clientToken, sharingToken
	return "https://idp.test/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeIDP) ExchangeCode(context.Context, string) (provider.Token, error) {
	f.exchanges++
	return f.token, f.tokenErr
}

func (f *fakeIDP) FetchIdentity(context.Context, string) (provider.Identity, error) {
	return f.identity, f.identErr
}

type env struct {
	store  *auth.MemoryStore
	nonces *auth.Nonces
	fence  *auth.Fence
	idp    *fakeIDP
	ctrl   *Controller
	alice  *auth.Account
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := auth.NewMemoryStore(0)
	alice, err := auth.CreateAccount(ctx, store.Accounts(ctx), "alice", "wonderland")
	require.NoError(t, err)
	e := &env{
		store:  store,
		nonces: auth.NewNonces(store.Nonces(ctx)),
		fence:  auth.NewFence(store.Fences(ctx), nil),
		idp:    &fakeIDP{token: provider.Token{AccessToken: "at"}, identity: provider.Identity{RemoteID: "r-1"}},
		alice:  alice,
	}
	e.ctrl = NewController(e.nonces, e.fence, e.idp, store.Links(ctx), store.Accounts(ctx))
	return e
}

func (e *env) issueState(t *testing.T) string {
	t.Helper()
	_, err := e.ctrl.InitiateLogin(context.Background(), "", "")
	require.NoError(t, err)
	return e.idp.lastState
}

func TestInitiateLoginPassesTokens(t *testing.T) {
	e := newEnv(t)
	target, err := e.ctrl.InitiateLogin(context.Background(), " ct ", "st")
	require.NoError(t, err)
	assert.Contains(t, target, "https://idp.test/authorize")
	assert.Equal(t, "ct", e.idp.lastClient)
	assert.Equal(t, "st", e.idp.lastShare)
	assert.Len(t, e.idp.lastState, 128)
}

func TestHandleCallbackUnknownStateSkipsExchange(t *testing.T) {
	e := newEnv(t)
	res, err := e.ctrl.HandleCallback(context.Background(), "forged", "code")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStateInvalid, res.Outcome)
	assert.Zero(t, e.idp.exchanges)
}

func TestHandleCallbackStateIsSingleUse(t *testing.T) {
	e := newEnv(t)
	state := e.issueState(t)

	res, err := e.ctrl.HandleCallback(context.Background(), state, "code")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnlinkedNeedsConnect, res.Outcome)
	assert.Equal(t, "r-1", res.RemoteID)

	res, err = e.ctrl.HandleCallback(context.Background(), state, "code")
	require.NoError(t, err)
	assert.Equal(t, OutcomeStateInvalid, res.Outcome)
	assert.Equal(t, 1, e.idp.exchanges)
}

func TestHandleCallbackProviderErrors(t *testing.T) {
	e := newEnv(t)
	e.idp.tokenErr = &provider.Error{Kind: provider.ErrorKindProvider, Code: "invalid_grant", Message: "expired"}
	res, err := e.ctrl.HandleCallback(context.Background(), e.issueState(t), "code")
	require.NoError(t, err)
	assert.Equal(t, OutcomeTokenError, res.Outcome)
	require.NotNil(t, res.Err)
	assert.Equal(t, "invalid_grant", res.Err.Code)

	e.idp.tokenErr = nil
	e.idp.identErr = errors.New("connection reset")
	res, err = e.ctrl.HandleCallback(context.Background(), e.issueState(t), "code")
	require.NoError(t, err)
	assert.Equal(t, OutcomeIdentityError, res.Outcome)
	require.NotNil(t, res.Err)
	assert.Equal(t, provider.ErrorKindNetwork, res.Err.Kind)
}

func TestHandleCallbackLinkedRecordsLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Links(ctx).Link(ctx, e.alice.ID, "r-1"))

	res, err := e.ctrl.HandleCallback(ctx, e.issueState(t), "code")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLinked, res.Outcome)
	assert.Equal(t, e.alice.ID, res.UserID)

	enrolled, err := e.fence.IsEnrolled(ctx, e.alice.ID)
	require.NoError(t, err)
	assert.True(t, enrolled)
}

func TestConnectAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	res, err := e.ctrl.ConnectAccount(ctx, "alice", "wrong", "r-1")
	require.NoError(t, err)
	assert.Equal(t, LinkInvalidCredentials, res.Outcome)

	res, err = e.ctrl.ConnectAccount(ctx, "alice", "wonderland", "r-1")
	require.NoError(t, err)
	assert.Equal(t, LinkLinked, res.Outcome)
	assert.Equal(t, e.alice.ID, res.UserID)
	enrolled, err := e.fence.IsEnrolled(ctx, e.alice.ID)
	require.NoError(t, err)
	assert.True(t, enrolled)

	res, err = e.ctrl.ConnectAccount(ctx, "alice", "wonderland", "r-2")
	require.NoError(t, err)
	assert.Equal(t, LinkAlreadyLinked, res.Outcome)

	_, err = auth.CreateAccount(ctx, e.store.Accounts(ctx), "bob", "builder")
	require.NoError(t, err)
	res, err = e.ctrl.ConnectAccount(ctx, "bob", "builder", "r-1")
	require.NoError(t, err)
	assert.Equal(t, LinkAlreadyLinked, res.Outcome, "remote identity already bound to alice")

	_, err = e.ctrl.ConnectAccount(ctx, "alice", "wonderland", "")
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestCheckPasswordLogin(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for _, allowed := range []bool{true, false} {
		d, err := e.ctrl.CheckPasswordLogin(ctx, e.alice.ID, allowed)
		require.NoError(t, err)
		assert.Equal(t, PasswordAllow, d, "unenrolled users always pass")
	}
	enrolled, err := e.fence.IsEnrolled(ctx, e.alice.ID)
	require.NoError(t, err)
	assert.False(t, enrolled, "allowing an unenrolled user must not enroll them")

	require.NoError(t, e.fence.RecordLogin(ctx, e.alice.ID))
	d, err := e.ctrl.CheckPasswordLogin(ctx, e.alice.ID, true)
	require.NoError(t, err)
	assert.Equal(t, PasswordAllow, d)

	d, err = e.ctrl.CheckPasswordLogin(ctx, e.alice.ID, false)
	require.NoError(t, err)
	assert.Equal(t, PasswordDenyMustUseRemote, d)
}

func TestPasswordLoginClearsEarlierForcedLogout(t *testing.T) {
	ctx := context.Background()
	store := auth.NewMemoryStore(0)
	var now time.Time
	fence := auth.NewFence(store.Fences(ctx), func() time.Time { return now })
	ctrl := NewController(auth.NewNonces(store.Nonces(ctx)), fence, &fakeIDP{}, store.Links(ctx), store.Accounts(ctx))

	now = time.Unix(100, 0)
	require.NoError(t, fence.RecordLogin(ctx, "u1"))
	now = time.Unix(200, 0)
	require.NoError(t, fence.RecordLogout(ctx, "u1"))

	d, err := ctrl.CheckActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, SessionForceLogout, d)

	now = time.Unix(300, 0)
	pd, err := ctrl.CheckPasswordLogin(ctx, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, PasswordAllow, pd)

	d, err = ctrl.CheckActiveSession(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, SessionValid, d)
}

type fakeResolver map[string]string

func (f fakeResolver) ResolveUserToken(_ context.Context, token string) (string, bool) {
	id, ok := f[token]
	return id, ok
}

type recordingBus struct {
	mu       sync.Mutex
	channels []string
	data     []map[string]any
	err      error
}

func (b *recordingBus) Broadcast(_ context.Context, channel, event string, data map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, channel+"#"+event)
	b.data = append(b.data, data)
	return b.err
}

func newWebhookEnv(t *testing.T) (*env, *recordingBus, *WebhookProcessor) {
	t.Helper()
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Links(ctx).Link(ctx, e.alice.ID, "r-1"))
	bus := &recordingBus{}
	p := NewWebhookProcessor(fakeResolver{"t": "r-1", "stranger": "r-9"}, e.store.Links(ctx), e.fence, bus, "Linkgate-Kill")
	return e, bus, p
}

func TestParseEventType(t *testing.T) {
	assert.Equal(t, EventRemoteLogout, ParseEventType("User_Logged_Out"))
	assert.Equal(t, EventRemoteLogout, ParseEventType("REMOTE_LOGOUT"))
	assert.Equal(t, EventUnlink, ParseEventType("Meveto_Protection_Removed"))
	assert.Equal(t, EventUnlink, ParseEventType("UNLINK"))
	assert.Equal(t, EventUnknown, ParseEventType("user_logged_out"))
}

func TestWebhookRemoteLogout(t *testing.T) {
	e, bus, p := newWebhookEnv(t)
	ctx := context.Background()
	require.NoError(t, e.fence.RecordLogin(ctx, e.alice.ID))

	res, err := p.Handle(ctx, Event{Type: "User_Logged_Out", UserToken: "t", Payload: map[string]any{"extra": "x"}})
	require.NoError(t, err)
	assert.Equal(t, WebhookOK, res)

	rec, err := e.store.Fences(ctx).Find(ctx, e.alice.ID)
	require.NoError(t, err)
	require.NotNil(t, rec.LastLoggedOut)

	require.Len(t, bus.channels, 1)
	assert.Equal(t, "private-Linkgate-Kill."+e.alice.ID+"#logout", bus.channels[0])
	assert.Equal(t, "", bus.data[0]["message"])
	assert.Equal(t, "x", bus.data[0]["extra"])

	// replay leaves the fence where it was
	res, err = p.Handle(ctx, Event{Type: "User_Logged_Out", UserToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, WebhookOK, res)
	again, err := e.store.Fences(ctx).Find(ctx, e.alice.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, again.LastLoggedOut.Unix(), rec.LastLoggedOut.Unix())
}

func TestWebhookBroadcastFailureStillOK(t *testing.T) {
	_, bus, p := newWebhookEnv(t)
	bus.err = errors.New("pusher down")
	res, err := p.Handle(context.Background(), Event{Type: "REMOTE_LOGOUT", UserToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, WebhookOK, res)
}

func TestWebhookUnknownUser(t *testing.T) {
	_, bus, p := newWebhookEnv(t)
	ctx := context.Background()

	res, err := p.Handle(ctx, Event{Type: "User_Logged_Out", UserToken: "nope"})
	require.NoError(t, err)
	assert.Equal(t, WebhookUnknownUser, res)

	res, err = p.Handle(ctx, Event{Type: "User_Logged_Out", UserToken: "stranger"})
	require.NoError(t, err)
	assert.Equal(t, WebhookUnknownUser, res)
	assert.Empty(t, bus.channels)
}

func TestWebhookUnlinkIsIdempotent(t *testing.T) {
	e, _, p := newWebhookEnv(t)
	ctx := context.Background()
	require.NoError(t, e.fence.RecordLogin(ctx, e.alice.ID))

	res, err := p.Handle(ctx, Event{Type: "UNLINK", UserToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, WebhookOK, res)

	_, err = e.store.Links(ctx).UserForRemote(ctx, "r-1")
	assert.ErrorIs(t, err, auth.ErrNotFound)
	enrolled, err := e.fence.IsEnrolled(ctx, e.alice.ID)
	require.NoError(t, err)
	assert.False(t, enrolled)

	res, err = p.Handle(ctx, Event{Type: "UNLINK", UserToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, WebhookOK, res)
}

func TestWebhookUnrecognizedType(t *testing.T) {
	e, bus, p := newWebhookEnv(t)
	ctx := context.Background()

	res, err := p.Handle(ctx, Event{Type: "Something_Else", UserToken: "t"})
	require.NoError(t, err)
	assert.Equal(t, WebhookUnrecognized, res)
	assert.Empty(t, bus.channels)
	enrolled, err := e.fence.IsEnrolled(ctx, e.alice.ID)
	require.NoError(t, err)
	assert.False(t, enrolled)
}
