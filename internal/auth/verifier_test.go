package auth_test

import (
	"testing"
	"time"

	"github.com/Quniber/Wasel-sub001/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func mintToken(t *testing.T, secret string, claims auth.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func validClaims(subject string) auth.Claims {
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestVerifyValidToken(t *testing.T) {
	v := auth.NewVerifier(testSecret)
	token := mintToken(t, testSecret, validClaims("42"))

	id, ok := v.Verify(token, "driver")
	if !ok {
		t.Fatal("expected valid token to verify")
	}
	if id != 42 {
		t.Errorf("expected subject 42, got %d", id)
	}
}

func TestVerifyRoleClaimMustMatch(t *testing.T) {
	v := auth.NewVerifier(testSecret)
	claims := validClaims("42")
	claims.Role = "driver"
	token := mintToken(t, testSecret, claims)

	if _, ok := v.Verify(token, "driver"); !ok {
		t.Error("matching role claim should verify")
	}
	if _, ok := v.Verify(token, "admin"); ok {
		t.Error("mismatched role claim must fail closed")
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	v := auth.NewVerifier(testSecret)

	expired := validClaims("42")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	cases := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.jwt"},
		{"wrong secret", mintToken(t, "other-secret", validClaims("42"))},
		{"expired", mintToken(t, testSecret, expired)},
		{"missing subject", mintToken(t, testSecret, validClaims(""))},
		{"non-numeric subject", mintToken(t, testSecret, validClaims("abc"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := v.Verify(tc.token, "driver"); ok {
				t.Errorf("expected verification to fail")
			}
		})
	}
}

func TestVerifyRejectsNonHMAC(t *testing.T) {
	v := auth.NewVerifier(testSecret)

	// alg=none style tokens must never pass.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims("42"))
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to build unsigned token: %v", err)
	}
	if _, ok := v.Verify(signed, "driver"); ok {
		t.Error("unsigned token must fail closed")
	}
}
