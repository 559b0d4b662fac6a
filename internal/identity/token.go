package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	refreshTokenBytes = 32
)

// TokenConfig carries the signing material and token lifetimes. The secret,
// issuer and audience come from configuration; without a secret the service
// must not issue tokens at all.
type TokenConfig struct {
	SecretKey       []byte
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// AccessClaims is the claim set embedded in access tokens.
type AccessClaims struct {
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates HS256 access tokens and mints opaque
// refresh tokens. Refresh tokens carry no claims; they are bearer lookup
// keys stored server-side on the user record.
type TokenIssuer struct {
	cfg TokenConfig
	now func() time.Time
}

// TokenOption configures TokenIssuer behavior.
type TokenOption func(*TokenIssuer)

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer. It fails closed: a missing
// signing secret, issuer or audience is a startup error, not a silent skip.
func NewTokenIssuer(cfg TokenConfig, opts ...TokenOption) (*TokenIssuer, error) {
	if len(cfg.SecretKey) == 0 {
		return nil, errors.New("identity: token signing secret is not configured")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("identity: token issuer and audience are required")
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	issuer := &TokenIssuer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (t *TokenIssuer) AccessTokenTTL() time.Duration { return t.cfg.AccessTokenTTL }

// RefreshTokenTTL returns the configured refresh token lifetime.
func (t *TokenIssuer) RefreshTokenTTL() time.Duration { return t.cfg.RefreshTokenTTL }

// IssueAccessToken signs a token embedding identity, role and permission
// claims. Expiry is now + the configured access lifetime.
func (t *TokenIssuer) IssueAccessToken(userID, username, email string, roles, permissions []string) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(t.cfg.AccessTokenTTL)
	claims := AccessClaims{
		Username:    username,
		Email:       email,
		Roles:       roles,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.cfg.Issuer,
			Audience:  jwt.ClaimStrings{t.cfg.Audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.cfg.SecretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, exp, nil
}

// IssueRefreshToken returns a 256-bit random opaque token, base64-encoded.
func (t *TokenIssuer) IssueRefreshToken() (string, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Validate checks signature, issuer, audience and expiry with zero clock
// skew. It reports a plain boolean: callers that only gate on validity must
// not learn why a token was rejected.
func (t *TokenIssuer) Validate(raw string) bool {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.cfg.Issuer),
		jwt.WithAudience(t.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	token, err := parser.ParseWithClaims(raw, &AccessClaims{}, t.keyFunc)
	return err == nil && token.Valid
}

// UserIDFromToken extracts the subject without validating the signature.
// It serves non-security-critical lookups only and must never be treated
// as an authentication check.
func (t *TokenIssuer) UserIDFromToken(raw string) (string, bool) {
	var claims AccessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", false
	}
	if claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// ClaimsFromToken fully validates the token except its expiry, supporting
// refresh flows that accept a structurally valid but time-expired token.
func (t *TokenIssuer) ClaimsFromToken(raw string) (*AccessClaims, bool) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	var claims AccessClaims
	if _, err := parser.ParseWithClaims(raw, &claims, t.keyFunc); err != nil {
		return nil, false
	}
	if claims.Issuer != t.cfg.Issuer || !containsAudience(claims.Audience, t.cfg.Audience) {
		return nil, false
	}
	return &claims, true
}

func (t *TokenIssuer) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return t.cfg.SecretKey, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
