package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider endpoints. Overridable on the client for tests.
const (
	defaultAuthorizeURL = "https://discord.com/api/oauth2/authorize"
	defaultTokenURL     = "https://discord.com/api/oauth2/token"
	defaultIdentityURL  = "https://discord.com/api/users/@me"
)

// Scopes requested from the user: read identity plus join guilds on the
// user's behalf.
const requestedScopes = "identify guilds.join"

// Client talks to the OAuth2 provider: authorization URL construction,
// code-to-token exchange and token-to-identity lookup. It holds no local
// state; failures are returned to the caller and never retried here.
type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	logger       *zap.Logger
	httpClient   *http.Client

	AuthorizeURL string
	TokenURL     string
	IdentityURL  string
}

// TokenResponse is the provider's token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Identity is the provider's self-reported identity for an access token.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// NewClient creates a provider client.
func NewClient(clientID, clientSecret, redirectURI string, logger *zap.Logger) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		redirectURI:  redirectURI,
		logger:       logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		AuthorizeURL: defaultAuthorizeURL,
		TokenURL:     defaultTokenURL,
		IdentityURL:  defaultIdentityURL,
	}
}

// AuthorizationURL returns the authorization URL carrying the given
// correlation state. Pure string composition, deterministic for fixed inputs.
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", c.redirectURI)
	params.Set("response_type", "code")
	params.Set("scope", requestedScopes)
	params.Set("state", state)
	return c.AuthorizeURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for an access token. Any
// non-200 status or transport failure is returned as an error; the caller
// must treat it as "could not authenticate", not retry.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	data := url.Values{}
	data.Set("client_id", c.clientID)
	data.Set("client_secret", c.clientSecret)
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", c.redirectURI)

	req, err := http.NewRequestWithContext(ctx, "POST", c.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("token exchange failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("token exchange returned status %d", resp.StatusCode)
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	return &token, nil
}

// Identity looks up the identity the access token belongs to.
func (c *Client) Identity(ctx context.Context, accessToken string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.IdentityURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("identity lookup failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, fmt.Errorf("identity lookup returned status %d", resp.StatusCode)
	}

	var ident Identity
	if err := json.NewDecoder(resp.Body).Decode(&ident); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}

	if ident.ID == "" {
		return nil, fmt.Errorf("identity response missing id")
	}

	return &ident, nil
}
