package oauth

import (
	"fmt"
	"strings"
)

const stateDelimiter = ":"

// CorrelationState binds an authorization callback back to the user and
// origin guild that initiated it. It round-trips through the provider's
// redirect as the "state" query parameter. Both fields are pure-numeric
// identifiers, which keeps the delimited encoding unambiguous and URL-safe.
type CorrelationState struct {
	UserID  string
	GuildID string
}

// NewState builds a correlation state, rejecting non-numeric identifiers.
func NewState(userID, guildID string) (CorrelationState, error) {
	if !isNumericID(userID) {
		return CorrelationState{}, fmt.Errorf("user id %q is not a numeric identifier", userID)
	}
	if !isNumericID(guildID) {
		return CorrelationState{}, fmt.Errorf("guild id %q is not a numeric identifier", guildID)
	}
	return CorrelationState{UserID: userID, GuildID: guildID}, nil
}

// Encode renders the state as "userID:guildID".
func (s CorrelationState) Encode() string {
	return s.UserID + stateDelimiter + s.GuildID
}

// ParseState decodes a state parameter previously produced by Encode.
func ParseState(raw string) (CorrelationState, error) {
	userID, guildID, ok := strings.Cut(raw, stateDelimiter)
	if !ok {
		return CorrelationState{}, fmt.Errorf("state %q has no delimiter", raw)
	}
	return NewState(userID, guildID)
}

func isNumericID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// RedactToken returns a short non-reversible prefix of an access token,
// the only form in which tokens may appear in logs or API responses.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "..."
	}
	return token[:8] + "..."
}
