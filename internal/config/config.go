package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        int
	Environment string

	// Service credential used for guild membership calls
	BotToken string

	// OAuth2 application credentials
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Origin guild (where users verify) and target guild (where they are redirected)
	GuildID       string
	TargetGuildID string

	// Role markers granted/revoked during reconciliation
	VerifiedRoleID   string
	UnverifiedRoleID string

	// Kick users from the origin guild after a successful redirection
	AutoKickAfterAdd bool

	// Directory holding the three persisted JSON tables
	DataDir string

	// Delay between consecutive calls in a batch redirection
	RedirectPacing time.Duration

	// Admin API
	JWTSecret     string
	AdminPassword string
	CORSOrigins   []string
}

// Load loads configuration from environment variables and validates it.
// Configuration errors are the only fatal errors in the system, so callers
// are expected to exit on a non-nil error.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnvInt("PORT", 3000),
		Environment:      getEnv("ENVIRONMENT", "production"),
		BotToken:         os.Getenv("TOKEN"),
		ClientID:         os.Getenv("CLIENT_ID"),
		ClientSecret:     os.Getenv("CLIENT_SECRET"),
		RedirectURI:      os.Getenv("REDIRECT_URI"),
		GuildID:          os.Getenv("GUILD_ID"),
		TargetGuildID:    os.Getenv("TARGET_SERVER_ID"),
		VerifiedRoleID:   os.Getenv("VERIFIED_ROLE_ID"),
		UnverifiedRoleID: os.Getenv("UNVERIFIED_ROLE_ID"),
		AutoKickAfterAdd: getEnvBool("AUTO_KICK_AFTER_ADD", false),
		DataDir:          getEnv("DATA_DIR", "."),
		RedirectPacing:   getEnvDuration("REDIRECT_PACING", 1500*time.Millisecond),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		AdminPassword:    os.Getenv("ADMIN_PASSWORD"),
		CORSOrigins:      loadCORSOrigins(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"TOKEN", c.BotToken},
		{"CLIENT_ID", c.ClientID},
		{"CLIENT_SECRET", c.ClientSecret},
		{"REDIRECT_URI", c.RedirectURI},
		{"JWT_SECRET", c.JWTSecret},
		{"ADMIN_PASSWORD", c.AdminPassword},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("environment variable %s not set", r.name)
		}
	}

	numeric := []struct {
		name  string
		value string
	}{
		{"GUILD_ID", c.GuildID},
		{"TARGET_SERVER_ID", c.TargetGuildID},
		{"VERIFIED_ROLE_ID", c.VerifiedRoleID},
		{"UNVERIFIED_ROLE_ID", c.UnverifiedRoleID},
	}
	for _, n := range numeric {
		if n.value == "" {
			return fmt.Errorf("environment variable %s not set", n.name)
		}
		if !isNumericID(n.value) {
			return fmt.Errorf("environment variable %s must be a numeric identifier, got %q", n.name, n.value)
		}
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters long")
	}

	if c.Environment == "production" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	if c.RedirectPacing < 0 {
		return fmt.Errorf("REDIRECT_PACING must not be negative")
	}

	return nil
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

func loadCORSOrigins() []string {
	if appURL := os.Getenv("APP_URL"); appURL != "" {
		return []string{strings.TrimRight(appURL, "/")}
	}
	return []string{"http://localhost:3000", "http://localhost:8080"}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
