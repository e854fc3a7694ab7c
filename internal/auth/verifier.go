// Package auth verifies the bearer credentials presented during the
// realtime handshake. Credential issuance lives elsewhere in the platform;
// this package only checks what it is handed.
package auth

import (
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token shape the identity service signs. The role claim is
// optional; when present it must match the role the peer declared.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify checks signature and expiry and extracts the numeric subject id.
// It fails closed: any decode error, signature mismatch, expired token,
// role mismatch, or non-numeric subject yields ok=false, with no
// distinction callers could leak to the remote peer.
func (v *Verifier) Verify(tokenString, claimedRole string) (int64, bool) {
	if tokenString == "" {
		return 0, false
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, false
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return 0, false
	}
	if claims.Role != "" && claims.Role != claimedRole {
		return 0, false
	}

	subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, false
	}
	return subjectID, true
}
