package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("test-secret", time.Hour, func() time.Time { return now })

	token, err := issuer.Issue("user-1", 279058397, []string{"admin"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}

	if claims.Subject != "user-1" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "user-1")
	}
	if claims.TelegramUserID != 279058397 {
		t.Errorf("TelegramUserID = %d, want %d", claims.TelegramUserID, 279058397)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Errorf("Roles = %v, want [admin]", claims.Roles)
	}
}

func TestTokenIssuer_Verify_Expired(t *testing.T) {
	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("test-secret", time.Hour, func() time.Time { return issued })

	token, err := issuer.Issue("user-1", 1, nil)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	// TTL経過後の検証は失敗する
	later := NewTokenIssuer("test-secret", time.Hour, func() time.Time {
		return issued.Add(time.Hour + time.Second)
	})
	if _, err := later.Verify(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestTokenIssuer_Verify_WrongSecret(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("test-secret", time.Hour, func() time.Time { return now })

	token, err := issuer.Issue("user-1", 1, nil)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	other := NewTokenIssuer("другой-secret", time.Hour, func() time.Time { return now })
	if _, err := other.Verify(token); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}
}

// TestTokenIssuer_Verify_RejectsNoneAlgorithm は署名なし（alg=none）の
// トークンが拒否されることを検証する。
func TestTokenIssuer_Verify_RejectsNoneAlgorithm(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("test-secret", time.Hour, func() time.Time { return now })

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}

	if _, err := issuer.Verify(token); err == nil {
		t.Error("expected alg=none token to be rejected")
	}
}

func TestTokenIssuer_Verify_MissingSubject(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	issuer := NewTokenIssuer("test-secret", time.Hour, func() time.Time { return now })

	token, err := issuer.Issue("", 1, nil)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if _, err := issuer.Verify(token); err == nil {
		t.Error("expected token without subject to be rejected")
	}
}

func TestTokenIssuer_Verify_Garbage(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour, nil)

	for _, token := range []string{"", "not.a.jwt", "aaaa.bbbb"} {
		if _, err := issuer.Verify(token); err == nil {
			t.Errorf("expected garbage token %q to be rejected", token)
		}
	}
}
