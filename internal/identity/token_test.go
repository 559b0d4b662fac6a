package identity

import (
	"testing"
	"time"
)

func TestNewTokenIssuerFailsClosed(t *testing.T) {
	if _, err := NewTokenIssuer(TokenConfig{Issuer: "govdesk", Audience: "aud"}); err == nil {
		t.Fatal("expected error without signing secret")
	}
	if _, err := NewTokenIssuer(TokenConfig{SecretKey: []byte("secret")}); err == nil {
		t.Fatal("expected error without issuer and audience")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)

	token, expiresAt, err := issuer.IssueAccessToken("user-1", "alice", "alice@gov.example",
		[]string{"clerk"}, []string{"document.record.read"})
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if want := clock.Now().Add(DefaultAccessTokenTTL); !expiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v, want %v", expiresAt, want)
	}
	if !issuer.Validate(token) {
		t.Fatal("fresh token rejected")
	}

	sub, ok := issuer.UserIDFromToken(token)
	if !ok || sub != "user-1" {
		t.Fatalf("UserIDFromToken = %q, %v", sub, ok)
	}

	claims, ok := issuer.ClaimsFromToken(token)
	if !ok {
		t.Fatal("ClaimsFromToken rejected valid token")
	}
	if claims.Username != "alice" || len(claims.Permissions) != 1 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)

	token, _, err := issuer.IssueAccessToken("user-1", "alice", "", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	clock.Advance(DefaultAccessTokenTTL + time.Second)
	if issuer.Validate(token) {
		t.Fatal("expired token accepted")
	}
	// Claims stay readable for refresh-style flows.
	if _, ok := issuer.ClaimsFromToken(token); !ok {
		t.Fatal("ClaimsFromToken rejected expired token")
	}
}

func TestValidateRejectsForeignToken(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)

	other, err := NewTokenIssuer(TokenConfig{
		SecretKey: []byte("another-secret-another-secret-32"),
		Issuer:    "govdesk",
		Audience:  "govdesk-backoffice",
	}, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, _, err := other.IssueAccessToken("user-1", "alice", "", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if issuer.Validate(token) {
		t.Fatal("token signed with a different key accepted")
	}
	if _, ok := issuer.ClaimsFromToken(token); ok {
		t.Fatal("ClaimsFromToken accepted a foreign signature")
	}

	wrongAudience, err := NewTokenIssuer(TokenConfig{
		SecretKey: []byte("0123456789abcdef0123456789abcdef"),
		Issuer:    "govdesk",
		Audience:  "somewhere-else",
	}, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, _, err = wrongAudience.IssueAccessToken("user-1", "alice", "", nil, nil)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if issuer.Validate(token) {
		t.Fatal("token for a different audience accepted")
	}

	if issuer.Validate("not.a.token") {
		t.Fatal("garbage accepted")
	}
}

func TestIssueRefreshTokenUnique(t *testing.T) {
	clock := newTestClock()
	issuer := newTestIssuer(t, clock)

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		token, err := issuer.IssueRefreshToken()
		if err != nil {
			t.Fatalf("IssueRefreshToken: %v", err)
		}
		if token == "" {
			t.Fatal("empty refresh token")
		}
		if _, dup := seen[token]; dup {
			t.Fatal("duplicate refresh token")
		}
		seen[token] = struct{}{}
	}
}
