package verify

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/guildgate/guildgate/internal/oauth"
	"github.com/guildgate/guildgate/internal/store"
)

// State enumerates the reconciliation steps of a single callback event.
// Reconciled and Failed are terminal; the system never retries a failed
// reconciliation on its own, the user must re-initiate.
type State int

const (
	StateReceived State = iota
	StateExchanged
	StateIdentityResolved
	StateReconciled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateExchanged:
		return "exchanged"
	case StateIdentityResolved:
		return "identity_resolved"
	case StateReconciled:
		return "reconciled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the terminal state of one reconciliation.
type Result struct {
	State    State
	Reason   string
	UserID   string
	Username string
}

// Succeeded reports whether the reconciliation reached the terminal
// success state.
func (r Result) Succeeded() bool {
	return r.State == StateReconciled
}

// TokenExchanger is the provider-facing surface the reconciler depends on,
// small enough to fake in tests.
type TokenExchanger interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth.TokenResponse, error)
	Identity(ctx context.Context, accessToken string) (*oauth.Identity, error)
}

// RoleManager mutates role markers on guild members.
type RoleManager interface {
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
}

// Service runs the verification flow: issuing authorization URLs with a
// pending record, and reconciling provider callbacks into role transitions
// and stored tokens.
type Service struct {
	provider TokenExchanger
	roles    RoleManager
	store    *store.Store
	logger   *zap.Logger

	verifiedRoleID   string
	unverifiedRoleID string

	locks userLocks
}

// NewService creates a verification service.
func NewService(provider TokenExchanger, roles RoleManager, st *store.Store, verifiedRoleID, unverifiedRoleID string, logger *zap.Logger) *Service {
	return &Service{
		provider:         provider,
		roles:            roles,
		store:            st,
		logger:           logger,
		verifiedRoleID:   verifiedRoleID,
		unverifiedRoleID: unverifiedRoleID,
	}
}

// Initiate records a pending verification for the user in the given origin
// guild, overwriting any previous one, and returns the authorization URL to
// hand to the user. No network call is made; the URL is deterministic for
// fixed inputs.
func (s *Service) Initiate(userID, guildID string) (string, error) {
	cs, err := oauth.NewState(userID, guildID)
	if err != nil {
		return "", err
	}

	if err := s.store.Pending.Put(userID, guildID); err != nil {
		s.logger.Warn("failed to persist pending verification",
			zap.String("user_id", userID), zap.Error(err))
	}

	s.logger.Info("pending verification recorded",
		zap.String("user_id", userID),
		zap.String("guild_id", guildID))

	return s.provider.AuthorizationURL(cs.Encode()), nil
}

// Reconcile drives a provider callback through the state machine:
// exchange the code, resolve the identity, reconcile against the pending
// record, transition role markers and persist the token.
//
// The identity resolved from the token is authoritative; a user id claimed
// by the correlation state never overrides it.
func (s *Service) Reconcile(ctx context.Context, code, rawState string) Result {
	if code == "" {
		return Result{State: StateFailed, Reason: "no authorization code"}
	}

	token, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		s.logger.Warn("token exchange failed", zap.Error(err))
		return Result{State: StateFailed, Reason: "token exchange failed"}
	}

	ident, err := s.provider.Identity(ctx, token.AccessToken)
	if err != nil {
		s.logger.Warn("identity lookup failed", zap.Error(err))
		return Result{State: StateFailed, Reason: "identity lookup failed"}
	}

	userID := ident.ID

	if cs, perr := oauth.ParseState(rawState); perr == nil {
		if cs.UserID != userID {
			// Anti-spoofing policy: the provider's identity wins over
			// whatever the client-supplied state claims.
			s.logger.Warn("correlation state does not match resolved identity",
				zap.String("state_user_id", cs.UserID),
				zap.String("identity_user_id", userID))
		}
	} else if rawState != "" {
		s.logger.Warn("could not parse correlation state",
			zap.String("state", rawState), zap.Error(perr))
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	guildID, pending := s.store.Pending.Get(userID)
	if !pending {
		// Lenient fallback: keep the token anyway so a later redirection is
		// still possible (out-of-order or duplicate callbacks, users
		// re-authorizing after verification). The pending table is untouched.
		s.persistToken(userID, token.AccessToken)
		s.logger.Info("no pending verification, token stored",
			zap.String("user_id", userID),
			zap.String("username", ident.Username),
			zap.String("token", oauth.RedactToken(token.AccessToken)))
		return Result{
			State:    StateReconciled,
			Reason:   "no pending verification; token stored",
			UserID:   userID,
			Username: ident.Username,
		}
	}

	if err := s.TransitionRoles(ctx, guildID, userID); err != nil {
		// The pending record survives so the same flow can be retried, and
		// no token is persisted on this branch.
		s.logger.Warn("role transition failed",
			zap.String("user_id", userID),
			zap.String("guild_id", guildID),
			zap.Error(err))
		return Result{
			State:    StateFailed,
			Reason:   "role transition failed",
			UserID:   userID,
			Username: ident.Username,
		}
	}

	if err := s.store.Pending.Delete(userID); err != nil {
		s.logger.Warn("failed to persist pending table",
			zap.String("user_id", userID), zap.Error(err))
	}
	s.persistToken(userID, token.AccessToken)

	s.logger.Info("verification reconciled",
		zap.String("user_id", userID),
		zap.String("username", ident.Username),
		zap.String("guild_id", guildID),
		zap.String("token", oauth.RedactToken(token.AccessToken)))

	return Result{
		State:    StateReconciled,
		UserID:   userID,
		Username: ident.Username,
	}
}

// TransitionRoles removes the unverified marker and grants the verified
// marker. Exposed for the admin force-verify operation.
func (s *Service) TransitionRoles(ctx context.Context, guildID, userID string) error {
	if err := s.roles.RemoveRole(ctx, guildID, userID, s.unverifiedRoleID); err != nil {
		return fmt.Errorf("remove unverified role: %w", err)
	}
	if err := s.roles.AddRole(ctx, guildID, userID, s.verifiedRoleID); err != nil {
		return fmt.Errorf("add verified role: %w", err)
	}
	return nil
}

func (s *Service) persistToken(userID, accessToken string) {
	if err := s.store.Tokens.Put(userID, accessToken); err != nil {
		s.logger.Warn("failed to persist token table",
			zap.String("user_id", userID), zap.Error(err))
	}
}

// userLocks serializes reconciliations per user so the pending-table
// read-modify-write span cannot interleave for the same user id. Entries are
// never evicted; the map is bounded by the number of distinct users seen.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *userLocks) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
