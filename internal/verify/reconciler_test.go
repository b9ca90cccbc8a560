package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/guildgate/guildgate/internal/oauth"
	"github.com/guildgate/guildgate/internal/store"
)

type fakeProvider struct {
	exchangeErr error
	identityErr error
	token       string
	identityID  string
	username    string
}

func (f *fakeProvider) AuthorizationURL(state string) string {
	return "https://provider.example.com/authorize?state=" + state
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*oauth.TokenResponse, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &oauth.TokenResponse{AccessToken: f.token, TokenType: "Bearer"}, nil
}

func (f *fakeProvider) Identity(ctx context.Context, accessToken string) (*oauth.Identity, error) {
	if f.identityErr != nil {
		return nil, f.identityErr
	}
	return &oauth.Identity{ID: f.identityID, Username: f.username}, nil
}

type fakeRoles struct {
	addErr    error
	removeErr error
	added     []string
	removed   []string
}

func (f *fakeRoles) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, guildID+"/"+userID+"/"+roleID)
	return nil
}

func (f *fakeRoles) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, guildID+"/"+userID+"/"+roleID)
	return nil
}

func newTestService(t *testing.T, provider TokenExchanger, roles RoleManager) (*Service, *store.Store) {
	t.Helper()
	st := store.Open(t.TempDir(), zap.NewNop())
	return NewService(provider, roles, st, "700", "800", zap.NewNop()), st
}

func TestInitiate_WritesPendingAndBuildsURL(t *testing.T) {
	svc, st := newTestService(t, &fakeProvider{}, &fakeRoles{})

	url, err := svc.Initiate("123", "10")
	require.NoError(t, err)
	assert.Equal(t, "https://provider.example.com/authorize?state=123:10", url)

	g, ok := st.Pending.Get("123")
	require.True(t, ok)
	assert.Equal(t, "10", g)

	// Re-initiation overwrites, never duplicates
	_, err = svc.Initiate("123", "20")
	require.NoError(t, err)
	g, _ = st.Pending.Get("123")
	assert.Equal(t, "20", g)
	assert.Equal(t, 1, st.Pending.Len())
}

func TestInitiate_RejectsNonNumericIDs(t *testing.T) {
	svc, st := newTestService(t, &fakeProvider{}, &fakeRoles{})

	_, err := svc.Initiate("not-a-number", "10")
	assert.Error(t, err)
	assert.Equal(t, 0, st.Pending.Len())
}

func TestReconcile_NoCode(t *testing.T) {
	svc, st := newTestService(t, &fakeProvider{}, &fakeRoles{})

	result := svc.Reconcile(context.Background(), "", "123:10")
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, "no authorization code", result.Reason)
	assert.Equal(t, 0, st.Tokens.Len())
}

func TestReconcile_ExchangeFailureMutatesNothing(t *testing.T) {
	provider := &fakeProvider{exchangeErr: errors.New("boom")}
	svc, st := newTestService(t, provider, &fakeRoles{})
	require.NoError(t, st.Pending.Put("123", "10"))

	result := svc.Reconcile(context.Background(), "the-code", "123:10")

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, "token exchange failed", result.Reason)
	g, ok := st.Pending.Get("123")
	require.True(t, ok)
	assert.Equal(t, "10", g)
	assert.Equal(t, 0, st.Tokens.Len())
}

func TestReconcile_IdentityFailureMutatesNothing(t *testing.T) {
	provider := &fakeProvider{token: "tok-xyz", identityErr: errors.New("boom")}
	svc, st := newTestService(t, provider, &fakeRoles{})
	require.NoError(t, st.Pending.Put("123", "10"))

	result := svc.Reconcile(context.Background(), "the-code", "123:10")

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, "identity lookup failed", result.Reason)
	assert.Equal(t, 1, st.Pending.Len())
	assert.Equal(t, 0, st.Tokens.Len())
}

func TestReconcile_PendingSuccess(t *testing.T) {
	provider := &fakeProvider{token: "tok-xyz", identityID: "123", username: "someone"}
	roles := &fakeRoles{}
	svc, st := newTestService(t, provider, roles)
	require.NoError(t, st.Pending.Put("123", "10"))

	result := svc.Reconcile(context.Background(), "the-code", "123:10")

	assert.Equal(t, StateReconciled, result.State)
	assert.Equal(t, "123", result.UserID)
	assert.Equal(t, "someone", result.Username)
	assert.True(t, result.Succeeded())

	// Unverified removed, verified added, in the origin guild
	assert.Equal(t, []string{"10/123/800"}, roles.removed)
	assert.Equal(t, []string{"10/123/700"}, roles.added)

	// Pending removed, token stored, audit log untouched
	_, ok := st.Pending.Get("123")
	assert.False(t, ok)
	tok, ok := st.Tokens.Get("123")
	require.True(t, ok)
	assert.Equal(t, "tok-xyz", tok)
	assert.Equal(t, 0, st.Redirects.Len())
}

func TestReconcile_RoleTransitionFailureKeepsPending(t *testing.T) {
	provider := &fakeProvider{token: "tok-xyz", identityID: "123", username: "someone"}
	roles := &fakeRoles{addErr: errors.New("missing permission")}
	svc, st := newTestService(t, provider, roles)
	require.NoError(t, st.Pending.Put("123", "10"))

	result := svc.Reconcile(context.Background(), "the-code", "123:10")

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, "role transition failed", result.Reason)

	// Pending survives for a later retry; no token persisted on this branch
	g, ok := st.Pending.Get("123")
	require.True(t, ok)
	assert.Equal(t, "10", g)
	assert.Equal(t, 0, st.Tokens.Len())
}

func TestReconcile_NoPendingStoresTokenAnyway(t *testing.T) {
	provider := &fakeProvider{token: "tok-xyz", identityID: "123", username: "someone"}
	roles := &fakeRoles{}
	svc, st := newTestService(t, provider, roles)

	result := svc.Reconcile(context.Background(), "the-code", "")

	assert.Equal(t, StateReconciled, result.State)
	assert.Equal(t, "no pending verification; token stored", result.Reason)

	tok, ok := st.Tokens.Get("123")
	require.True(t, ok)
	assert.Equal(t, "tok-xyz", tok)
	assert.Equal(t, 0, st.Pending.Len())

	// No role transition happened
	assert.Empty(t, roles.added)
	assert.Empty(t, roles.removed)
}

func TestReconcile_IdentityWinsOverState(t *testing.T) {
	// Correlation state claims user 111, but the token's identity is 222.
	provider := &fakeProvider{token: "tok-xyz", identityID: "222", username: "real"}
	roles := &fakeRoles{}
	svc, st := newTestService(t, provider, roles)
	require.NoError(t, st.Pending.Put("111", "10"))

	result := svc.Reconcile(context.Background(), "the-code", "111:10")

	// Lookup uses 222: no pending there, so lenient fallback applies.
	assert.Equal(t, StateReconciled, result.State)
	assert.Equal(t, "222", result.UserID)

	tok, ok := st.Tokens.Get("222")
	require.True(t, ok)
	assert.Equal(t, "tok-xyz", tok)

	// User 111's pending record is untouched and no token was stored for it.
	_, ok = st.Pending.Get("111")
	assert.True(t, ok)
	_, ok = st.Tokens.Get("111")
	assert.False(t, ok)
}

func TestReconcile_UnparseableStateFallsBackToIdentity(t *testing.T) {
	provider := &fakeProvider{token: "tok-xyz", identityID: "123", username: "someone"}
	roles := &fakeRoles{}
	svc, st := newTestService(t, provider, roles)
	require.NoError(t, st.Pending.Put("123", "10"))

	result := svc.Reconcile(context.Background(), "the-code", "garbage-state")

	// The pending record is still found via the resolved identity.
	assert.Equal(t, StateReconciled, result.State)
	_, ok := st.Pending.Get("123")
	assert.False(t, ok)
	_, ok = st.Tokens.Get("123")
	assert.True(t, ok)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "received", StateReceived.String())
	assert.Equal(t, "exchanged", StateExchanged.String())
	assert.Equal(t, "identity_resolved", StateIdentityResolved.String())
	assert.Equal(t, "reconciled", StateReconciled.String())
	assert.Equal(t, "failed", StateFailed.String())
}
