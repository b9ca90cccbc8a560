package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/guildgate/guildgate/internal/config"
	"github.com/guildgate/guildgate/internal/oauth"
	"github.com/guildgate/guildgate/internal/redirect"
	"github.com/guildgate/guildgate/internal/store"
	"github.com/guildgate/guildgate/internal/verify"
)

// InitiateRequest asks for an authorization URL for a user.
type InitiateRequest struct {
	UserID string `json:"user_id"`
}

// InitiateResponse carries the authorization URL to hand to the user.
type InitiateResponse struct {
	URL string `json:"url"`
}

// HandleInitiate starts a verification: records the pending entry for the
// origin guild and returns the authorization URL.
func HandleInitiate(verifier *verify.Service, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req InitiateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		url, err := verifier.Initiate(req.UserID, cfg.GuildID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(InitiateResponse{URL: url})
	}
}

// HandleForceVerify applies the role transition without an OAuth2 flow.
func HandleForceVerify(verifier *verify.Service, cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		if err := verifier.TransitionRoles(r.Context(), cfg.GuildID, userID); err != nil {
			logger.Warn("force verify failed", zap.String("user_id", userID), zap.Error(err))
			http.Error(w, "Role transition failed", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID, "status": "verified"})
	}
}

// HandlePending returns the pending verification table.
func HandlePending(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st.Pending.Snapshot())
	}
}

// TokenInfo is the redacted listing entry for a stored token.
type TokenInfo struct {
	UserID      string `json:"user_id"`
	TokenPrefix string `json:"token_prefix"`
}

// HandleTokens lists users holding a consent token. Tokens are never
// returned in full, only the redacted prefix.
func HandleTokens(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := st.Tokens.Snapshot()
		infos := make([]TokenInfo, 0, len(snapshot))
		for userID, token := range snapshot {
			infos = append(infos, TokenInfo{UserID: userID, TokenPrefix: oauth.RedactToken(token)})
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].UserID < infos[j].UserID })

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(infos)
	}
}

// TokenStatusResponse describes a single user across the three tables.
type TokenStatusResponse struct {
	UserID         string `json:"user_id"`
	HasToken       bool   `json:"has_token"`
	TokenPrefix    string `json:"token_prefix,omitempty"`
	IsPending      bool   `json:"is_pending"`
	PendingGuildID string `json:"pending_guild_id,omitempty"`
	RedirectCount  int    `json:"redirect_count"`
}

// HandleTokenStatus reports token, pending and redirect state for a user.
func HandleTokenStatus(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		resp := TokenStatusResponse{UserID: userID}
		if token, ok := st.Tokens.Get(userID); ok {
			resp.HasToken = true
			resp.TokenPrefix = oauth.RedactToken(token)
		}
		if guildID, ok := st.Pending.Get(userID); ok {
			resp.IsPending = true
			resp.PendingGuildID = guildID
		}
		if recs, ok := st.Redirects.Get(userID); ok {
			resp.RedirectCount = len(recs)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// RedirectResponse is the outcome of a single redirection.
type RedirectResponse struct {
	UserID  string `json:"user_id"`
	Outcome string `json:"outcome"`
	Success bool   `json:"success"`
}

// HandleRedirectUser redirects one user to the target guild using their
// stored consent token.
func HandleRedirectUser(engine *redirect.Engine, st *store.Store, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		token, ok := st.Tokens.Get(userID)
		if !ok {
			http.Error(w, "No access token stored for user", http.StatusNotFound)
			return
		}

		outcome := engine.RedirectOne(r.Context(), userID, token, cfg.TargetGuildID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RedirectResponse{
			UserID:  userID,
			Outcome: outcome.String(),
			Success: outcome.Success(),
		})
	}
}

// HandleRedirectAll redirects every user with a stored token to the target
// guild, in user-id order, and returns the aggregate report. The request
// blocks until the batch has run to completion.
func HandleRedirectAll(engine *redirect.Engine, st *store.Store, cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := st.Tokens.Snapshot()
		entries := make([]redirect.BatchEntry, 0, len(snapshot))
		for userID, token := range snapshot {
			entries = append(entries, redirect.BatchEntry{UserID: userID, AccessToken: token})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })

		logger.Info("batch redirection started", zap.Int("users", len(entries)))

		report := engine.RedirectBatch(r.Context(), entries, cfg.TargetGuildID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

// StatsResponse summarizes the record store.
type StatsResponse struct {
	Tokens           int `json:"tokens"`
	Pending          int `json:"pending"`
	TotalRedirects   int `json:"total_redirects"`
	UniqueRedirected int `json:"unique_redirected"`
}

// HandleStats reports store counters.
func HandleStats(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(StatsResponse{
			Tokens:           st.Tokens.Len(),
			Pending:          st.Pending.Len(),
			TotalRedirects:   st.TotalRedirects(),
			UniqueRedirected: st.Redirects.Len(),
		})
	}
}
