package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"govdesk.org/internal/mfa"
)

const (
	DefaultMaxFailedAttempts = 5
	DefaultLockoutDuration   = 30 * time.Minute
)

// Audit action names recorded by the engine.
const (
	auditActionLogin   = "auth.login"
	auditActionLockout = "auth.lockout"
	auditActionRefresh = "auth.refresh"
	auditActionLogout  = "auth.logout"
)

// LoginRequest carries the credentials for one login attempt.
type LoginRequest struct {
	Username  string
	Password  string
	MfaCode   string
	IPAddress string
}

// AuthResult is the outcome of a login or refresh call. RequiresMfa marks
// the "needs more input" case: not a failure in the UX sense, but no tokens
// are issued until the second factor arrives.
type AuthResult struct {
	Success      bool
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	RequiresMfa  bool
}

// Engine orchestrates login, lockout, MFA, token refresh and logout. All
// collaborators are injected; the engine holds no process-wide state.
type Engine struct {
	store    Store
	tokens   *TokenIssuer
	resolver *Resolver
	log      *zap.Logger
	now      func() time.Time
	sink     func(AuditRecord)

	maxFailedAttempts int
	lockoutDuration   time.Duration
}

// EngineOption configures Engine behavior.
type EngineOption func(*Engine)

// WithClock overrides the time source (useful for lockout and expiry tests).
func WithClock(fn func() time.Time) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithLockoutPolicy overrides the failed-attempt threshold and lock duration.
func WithLockoutPolicy(maxAttempts int, lockFor time.Duration) EngineOption {
	return func(e *Engine) {
		if maxAttempts > 0 {
			e.maxFailedAttempts = maxAttempts
		}
		if lockFor > 0 {
			e.lockoutDuration = lockFor
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithEventSink registers a callback invoked with every audit record the
// engine writes, for live fan-out alongside the durable audit trail. The
// callback must not block.
func WithEventSink(fn func(AuditRecord)) EngineOption {
	return func(e *Engine) { e.sink = fn }
}

// NewEngine constructs the authentication engine.
func NewEngine(store Store, tokens *TokenIssuer, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("identity: store is required")
	}
	if tokens == nil {
		return nil, errors.New("identity: token issuer is required")
	}
	e := &Engine{
		store:             store,
		tokens:            tokens,
		log:               zap.NewNop(),
		now:               time.Now,
		maxFailedAttempts: DefaultMaxFailedAttempts,
		lockoutDuration:   DefaultLockoutDuration,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(store, WithResolverClock(e.now))
	return e, nil
}

// Login runs the authentication state machine for one attempt. Failure gates
// in order: unknown user, disabled account, active lock, wrong password,
// missing or wrong second factor. Unknown-user and wrong-password collapse
// into ErrInvalidCredentials so callers cannot probe for account existence.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" || req.Password == "" {
		return AuthResult{}, ErrInvalidCredentials
	}

	now := e.now().UTC()
	user, err := e.store.Users(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.log.Warn("login attempt for unknown username", zap.String("username", username))
			e.audit(ctx, &AuditRecord{Action: auditActionLogin, IsSuccess: false, Detail: "unknown username", IPAddress: req.IPAddress})
			return AuthResult{}, ErrInvalidCredentials
		}
		e.log.Error("login user lookup failed", zap.String("username", username), zap.Error(err))
		return AuthResult{}, ErrInternal
	}

	if !user.IsActive {
		e.log.Warn("login attempt for disabled account", zap.String("user_id", user.ID))
		e.audit(ctx, &AuditRecord{UserID: user.ID, Action: auditActionLogin, IsSuccess: false, Detail: "account disabled", IPAddress: req.IPAddress})
		return AuthResult{}, ErrAccountDisabled
	}

	// A lock with no deadline holds until an operator resets it. The lock is
	// not auto-cleared here; only a later successful login clears it.
	if user.IsLocked && (user.LockedUntil == nil || user.LockedUntil.After(now)) {
		e.log.Warn("login attempt for locked account", zap.String("user_id", user.ID))
		e.audit(ctx, &AuditRecord{UserID: user.ID, Action: auditActionLogin, IsSuccess: false, Detail: "account locked", IPAddress: req.IPAddress})
		return AuthResult{}, ErrAccountLocked
	}

	if !VerifyPassword(req.Password, user.PasswordHash, user.Salt) {
		failure, err := e.store.Users(ctx).RecordLoginFailure(ctx, user.ID, e.maxFailedAttempts, e.lockoutDuration, now)
		if err != nil {
			// Losing the counter update would weaken the lockout, so the
			// whole call fails rather than reporting a clean mismatch.
			e.log.Error("failed to persist login failure", zap.String("user_id", user.ID), zap.Error(err))
			return AuthResult{}, ErrInternal
		}
		e.log.Warn("failed login attempt",
			zap.String("user_id", user.ID),
			zap.Int("failed_attempts", failure.Attempts),
			zap.Bool("locked", failure.Locked))
		e.audit(ctx, &AuditRecord{UserID: user.ID, Action: auditActionLogin, IsSuccess: false, Detail: "wrong password", IPAddress: req.IPAddress})
		if failure.Locked {
			e.audit(ctx, &AuditRecord{UserID: user.ID, Action: auditActionLockout, IsSuccess: true, Detail: "failed attempt threshold reached", IPAddress: req.IPAddress})
		}
		return AuthResult{}, ErrInvalidCredentials
	}

	if user.MfaEnabled {
		if strings.TrimSpace(req.MfaCode) == "" {
			// Needs more input; no failed attempt is consumed.
			return AuthResult{RequiresMfa: true}, ErrMfaRequired
		}
		if !mfa.Verify(user.MfaSecret, req.MfaCode, now) {
			e.log.Warn("invalid mfa code", zap.String("user_id", user.ID))
			e.audit(ctx, &AuditRecord{UserID: user.ID, Action: auditActionLogin, IsSuccess: false, Detail: "invalid mfa code", IPAddress: req.IPAddress})
			return AuthResult{}, ErrInvalidMfaCode
		}
	}

	result, refreshExpiry, err := e.mintTokenPair(ctx, user, now)
	if err != nil {
		e.log.Error("token issuance failed", zap.String("user_id", user.ID), zap.Error(err))
		return AuthResult{}, ErrInternal
	}
	// The user row update is the durability gate: counters reset, lock
	// cleared and the refresh token stored before success is reported.
	if err := e.store.Users(ctx).RecordLoginSuccess(ctx, user.ID, result.RefreshToken, refreshExpiry, now); err != nil {
		e.log.Error("failed to persist login success", zap.String("user_id", user.ID), zap.Error(err))
		return AuthResult{}, ErrInternal
	}
	e.log.Info("successful login", zap.String("user_id", user.ID))
	e.audit(ctx, &AuditRecord{UserID: user.ID, Action: auditActionLogin, IsSuccess: true, IPAddress: req.IPAddress})
	return result, nil
}

// Refresh exchanges a live refresh token for a fresh pair, rotating the
// stored token so each refresh token is single-use. Roles and permissions
// are re-derived, never replayed from the original login.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return AuthResult{}, ErrTokenExpired
	}
	now := e.now().UTC()
	user, err := e.store.Users(ctx).FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.log.Warn("refresh with unknown token")
			return AuthResult{}, ErrTokenExpired
		}
		e.log.Error("refresh token lookup failed", zap.Error(err))
		return AuthResult{}, ErrInternal
	}
	if user.RefreshTokenExpiry == nil || !user.RefreshTokenExpiry.After(now) {
		e.log.Warn("refresh with expired token", zap.String("user_id", user.ID))
		return AuthResult{}, ErrTokenExpired
	}

	result, refreshExpiry, err := e.mintTokenPair(ctx, user, now)
	if err != nil {
		e.log.Error("token rotation failed", zap.String("user_id", user.ID), zap.Error(err))
		return AuthResult{}, ErrInternal
	}
	// Rotation by overwrite: the presented token stops matching the stored
	// one, making each refresh token single-use.
	if err := e.store.Users(ctx).RotateRefreshToken(ctx, user.ID, result.RefreshToken, refreshExpiry); err != nil {
		e.log.Error("failed to persist rotated refresh token", zap.String("user_id", user.ID), zap.Error(err))
		return AuthResult{}, ErrInternal
	}
	e.audit(ctx, &AuditRecord{UserID: user.ID, Action: auditActionRefresh, IsSuccess: true})
	return result, nil
}

// Logout clears the stored refresh token. Absent users are a successful
// no-op, so repeated logouts stay idempotent.
func (e *Engine) Logout(ctx context.Context, userID string) error {
	if err := e.store.Users(ctx).ClearRefreshToken(ctx, userID); err != nil {
		e.log.Error("logout failed", zap.String("user_id", userID), zap.Error(err))
		return ErrInternal
	}
	e.audit(ctx, &AuditRecord{UserID: userID, Action: auditActionLogout, IsSuccess: true})
	return nil
}

// ValidateToken reports whether the access token is currently valid.
func (e *Engine) ValidateToken(token string) bool {
	return e.tokens.Validate(token)
}

// UserIDFromToken extracts the subject without signature validation.
// Non-authoritative; never use as an authentication check.
func (e *Engine) UserIDFromToken(token string) (string, bool) {
	return e.tokens.UserIDFromToken(token)
}

// EffectivePermissions exposes the resolver to the transport layer.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	return e.resolver.EffectivePermissions(ctx, userID)
}

// mintTokenPair resolves fresh role and permission claims and signs a new
// access plus refresh token pair. Persistence is the caller's job: login and
// refresh differ in what else the user row update must touch.
func (e *Engine) mintTokenPair(ctx context.Context, user *User, now time.Time) (AuthResult, time.Time, error) {
	permissions, err := e.resolver.EffectivePermissions(ctx, user.ID)
	if err != nil {
		return AuthResult{}, time.Time{}, err
	}
	roles, err := e.resolver.LiveRoleNames(ctx, user.ID)
	if err != nil {
		return AuthResult{}, time.Time{}, err
	}
	accessToken, expiresAt, err := e.tokens.IssueAccessToken(user.ID, user.Username, user.Email, roles, permissions)
	if err != nil {
		return AuthResult{}, time.Time{}, err
	}
	refreshToken, err := e.tokens.IssueRefreshToken()
	if err != nil {
		return AuthResult{}, time.Time{}, err
	}
	result := AuthResult{
		Success:      true,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}
	return result, now.Add(e.tokens.RefreshTokenTTL()), nil
}

// audit appends a record best-effort: a failed audit write is logged but
// never blocks the primary result.
func (e *Engine) audit(ctx context.Context, rec *AuditRecord) {
	rec.Timestamp = e.now().UTC()
	if err := e.store.Audit(ctx).Append(ctx, rec); err != nil {
		e.log.Error("audit append failed", zap.String("action", rec.Action), zap.Error(err))
	}
	if e.sink != nil {
		e.sink(*rec)
	}
}
