package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthorizationURL_Deterministic(t *testing.T) {
	c := NewClient("client-1", "secret", "https://bot.example.com/callback", zap.NewNop())

	cs, err := NewState("123", "456")
	require.NoError(t, err)

	first := c.AuthorizationURL(cs.Encode())
	second := c.AuthorizationURL(cs.Encode())
	assert.Equal(t, first, second)

	u, err := url.Parse(first)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-1", q.Get("client_id"))
	assert.Equal(t, "https://bot.example.com/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "identify guilds.join", q.Get("scope"))

	// The state parameter survives URL transport and parses back to the
	// exact inputs.
	parsed, err := ParseState(q.Get("state"))
	require.NoError(t, err)
	assert.Equal(t, cs, parsed)
}

func TestExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
		assert.Equal(t, "the-code", r.Form.Get("code"))
		assert.Equal(t, "client-1", r.Form.Get("client_id"))
		assert.Equal(t, "secret", r.Form.Get("client_secret"))
		assert.Equal(t, "https://bot.example.com/callback", r.Form.Get("redirect_uri"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-xyz","token_type":"Bearer","expires_in":604800,"scope":"identify guilds.join"}`))
	}))
	defer srv.Close()

	c := NewClient("client-1", "secret", "https://bot.example.com/callback", zap.NewNop())
	c.TokenURL = srv.URL

	token, err := c.ExchangeCode(context.Background(), "the-code")
	require.NoError(t, err)
	assert.Equal(t, "tok-xyz", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
}

func TestExchangeCode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		closeCh bool
	}{
		{"non-200 status", http.StatusBadRequest, `{"error":"invalid_grant"}`, false},
		{"missing access_token", http.StatusOK, `{"token_type":"Bearer"}`, false},
		{"malformed body", http.StatusOK, `{not json`, false},
		{"transport error", 0, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			c := NewClient("client-1", "secret", "https://bot.example.com/callback", zap.NewNop())
			c.TokenURL = srv.URL
			if tc.closeCh {
				srv.Close()
			} else {
				defer srv.Close()
			}

			token, err := c.ExchangeCode(context.Background(), "the-code")
			assert.Error(t, err)
			assert.Nil(t, token)
		})
	}
}

func TestIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-xyz", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"123456789","username":"someone"}`))
	}))
	defer srv.Close()

	c := NewClient("client-1", "secret", "https://bot.example.com/callback", zap.NewNop())
	c.IdentityURL = srv.URL

	ident, err := c.Identity(context.Background(), "tok-xyz")
	require.NoError(t, err)
	assert.Equal(t, "123456789", ident.ID)
	assert.Equal(t, "someone", ident.Username)
}

func TestIdentity_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"401: Unauthorized"}`},
		{"missing id", http.StatusOK, `{"username":"someone"}`},
		{"malformed body", http.StatusOK, `nope`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := NewClient("client-1", "secret", "https://bot.example.com/callback", zap.NewNop())
			c.IdentityURL = srv.URL

			ident, err := c.Identity(context.Background(), "tok-xyz")
			assert.Error(t, err)
			assert.Nil(t, ident)
		})
	}
}
