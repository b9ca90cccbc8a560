package guild

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://discord.com/api/v10"

// AddOutcome classifies the provider's response to a membership upsert.
type AddOutcome int

const (
	// OutcomeAdded means the user was added to the guild (HTTP 200/201).
	OutcomeAdded AddOutcome = iota
	// OutcomeAlreadyMember means the user was already in the guild (HTTP 204).
	OutcomeAlreadyMember
	// OutcomeForbidden means the service credential lacks permission (HTTP 403).
	OutcomeForbidden
	// OutcomeError covers every other status and transport failure.
	OutcomeError
)

func (o AddOutcome) String() string {
	switch o {
	case OutcomeAdded:
		return "added"
	case OutcomeAlreadyMember:
		return "already_member"
	case OutcomeForbidden:
		return "forbidden"
	default:
		return "error"
	}
}

// Success reports whether the outcome counts as a successful redirection.
func (o AddOutcome) Success() bool {
	return o == OutcomeAdded || o == OutcomeAlreadyMember
}

// Client performs guild membership mutations with the bot's own service
// credential. User access tokens only ever travel as request payload.
type Client struct {
	botToken   string
	logger     *zap.Logger
	httpClient *http.Client

	// BaseURL is overridable for tests.
	BaseURL string
}

// NewClient creates a guild API client.
func NewClient(botToken string, logger *zap.Logger) *Client {
	return &Client{
		botToken: botToken,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		BaseURL: defaultBaseURL,
	}
}

// AddMember adds the user to the guild using the user's consent token
// (requires the guilds.join scope on the token). The response is classified,
// never surfaced as an error: redirection failures are outcomes, not faults.
func (c *Client) AddMember(ctx context.Context, guildID, userID, accessToken string) AddOutcome {
	payload, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		c.logger.Error("failed to marshal member payload", zap.Error(err))
		return OutcomeError
	}

	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s", c.BaseURL, guildID, userID)
	req, err := http.NewRequestWithContext(ctx, "PUT", endpoint, bytes.NewReader(payload))
	if err != nil {
		c.logger.Error("failed to create member upsert request", zap.Error(err))
		return OutcomeError
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("member upsert request failed",
			zap.String("user_id", userID),
			zap.String("guild_id", guildID),
			zap.Error(err))
		return OutcomeError
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return OutcomeAdded
	case http.StatusNoContent:
		c.logger.Info("user already in guild",
			zap.String("user_id", userID),
			zap.String("guild_id", guildID))
		return OutcomeAlreadyMember
	case http.StatusForbidden:
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("member upsert forbidden, bot lacks permission",
			zap.String("user_id", userID),
			zap.String("guild_id", guildID),
			zap.ByteString("body", body))
		return OutcomeForbidden
	default:
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("member upsert failed",
			zap.String("user_id", userID),
			zap.String("guild_id", guildID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return OutcomeError
	}
}

// AddRole grants a role marker to a guild member.
func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.BaseURL, guildID, userID, roleID)
	return c.do(ctx, "PUT", endpoint, "")
}

// RemoveRole revokes a role marker from a guild member. Removing a role the
// member does not hold is a no-op on the provider side.
func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s/roles/%s", c.BaseURL, guildID, userID, roleID)
	return c.do(ctx, "DELETE", endpoint, "")
}

// RemoveMember kicks a user from a guild.
func (c *Client) RemoveMember(ctx context.Context, guildID, userID, reason string) error {
	endpoint := fmt.Sprintf("%s/guilds/%s/members/%s", c.BaseURL, guildID, userID)
	return c.do(ctx, "DELETE", endpoint, reason)
}

func (c *Client) do(ctx context.Context, method, endpoint, auditReason string) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	if auditReason != "" {
		req.Header.Set("X-Audit-Log-Reason", auditReason)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		c.logger.Warn("guild API call failed",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return fmt.Errorf("%s %s returned status %d", method, endpoint, resp.StatusCode)
	}

	return nil
}
