package redirect

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/guildgate/guildgate/internal/guild"
	"github.com/guildgate/guildgate/internal/store"
)

// Method tags recorded in the redirect audit log.
const (
	methodOAuthJoin     = "oauth2_guilds_join"
	methodAlreadyMember = "already_member"
)

// MemberClient is the guild-membership surface the engine depends on.
type MemberClient interface {
	AddMember(ctx context.Context, guildID, userID, accessToken string) guild.AddOutcome
	RemoveMember(ctx context.Context, guildID, userID, reason string) error
}

// Engine replays stored consent tokens to move users into a target guild,
// one at a time or in paced batches, and maintains the audit trail.
type Engine struct {
	members MemberClient
	store   *store.Store
	logger  *zap.Logger

	pacing        time.Duration
	originGuildID string
	autoKick      bool
}

// BatchEntry is one unit of work in a batch redirection.
type BatchEntry struct {
	UserID      string
	AccessToken string
}

// BatchReport is the aggregate accounting of a batch redirection.
// AddedCount + FailedCount always equals the number of entries that carried
// a token.
type BatchReport struct {
	AddedCount     int `json:"added"`
	FailedCount    int `json:"failed"`
	SkippedNoToken int `json:"skipped_no_token"`
}

// NewEngine creates a redirection engine. pacing is the fixed delay imposed
// between consecutive membership calls in a batch; originGuildID and
// autoKick control the optional kick-from-origin after a successful add.
func NewEngine(members MemberClient, st *store.Store, pacing time.Duration, originGuildID string, autoKick bool, logger *zap.Logger) *Engine {
	return &Engine{
		members:       members,
		store:         st,
		logger:        logger,
		pacing:        pacing,
		originGuildID: originGuildID,
		autoKick:      autoKick,
	}
}

// RedirectOne adds a single user to the target guild with their stored
// consent token and classifies the result. Added and already-member outcomes
// append exactly one audit entry; forbidden and error outcomes append none.
func (e *Engine) RedirectOne(ctx context.Context, userID, accessToken, targetGuildID string) guild.AddOutcome {
	outcome := e.members.AddMember(ctx, targetGuildID, userID, accessToken)

	switch outcome {
	case guild.OutcomeAdded:
		e.record(userID, targetGuildID, methodOAuthJoin)
	case guild.OutcomeAlreadyMember:
		e.record(userID, targetGuildID, methodAlreadyMember)
	}

	if outcome.Success() && e.autoKick {
		if err := e.members.RemoveMember(ctx, e.originGuildID, userID, "redirected to target guild"); err != nil {
			e.logger.Warn("failed to kick user from origin guild",
				zap.String("user_id", userID), zap.Error(err))
		}
	}

	e.logger.Info("redirection attempt",
		zap.String("user_id", userID),
		zap.String("guild_id", targetGuildID),
		zap.String("outcome", outcome.String()))

	return outcome
}

// RedirectBatch redirects the entries in order, imposing the pacing delay
// between consecutive membership calls. Entries without a token are counted
// as skipped and consume no delay. Individual failures never stop the batch;
// it always runs its input to completion.
func (e *Engine) RedirectBatch(ctx context.Context, entries []BatchEntry, targetGuildID string) BatchReport {
	limit := rate.Inf
	if e.pacing > 0 {
		limit = rate.Every(e.pacing)
	}
	limiter := rate.NewLimiter(limit, 1)

	var report BatchReport
	for _, entry := range entries {
		if entry.AccessToken == "" {
			report.SkippedNoToken++
			continue
		}

		// A canceled context only skips the delay; the entry is still
		// attempted and accounted for.
		_ = limiter.Wait(ctx)

		if e.RedirectOne(ctx, entry.UserID, entry.AccessToken, targetGuildID).Success() {
			report.AddedCount++
		} else {
			report.FailedCount++
		}
	}

	e.logger.Info("batch redirection complete",
		zap.String("guild_id", targetGuildID),
		zap.Int("added", report.AddedCount),
		zap.Int("failed", report.FailedCount),
		zap.Int("no_token", report.SkippedNoToken))

	return report
}

func (e *Engine) record(userID, guildID, method string) {
	rec := store.RedirectRecord{
		Timestamp: time.Now().UTC(),
		GuildID:   guildID,
		Method:    method,
	}
	if err := e.store.AppendRedirect(userID, rec); err != nil {
		e.logger.Warn("failed to persist redirect log",
			zap.String("user_id", userID), zap.Error(err))
	}
}
