package security

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidTrustClaim is returned when a token verifies but its
// "trust_level" claim is missing or out of the 0-3 range.
var ErrInvalidTrustClaim = fmt.Errorf("security: token missing a valid trust_level claim")

// TrustVerifier resolves a Context's TrustLevel from a caller-presented
// JWT, the open-question resolution SPEC_FULL.md records for "what
// determines trust_level" (§9): the bearer's token carries a numeric
// "trust_level" claim (0-3), signed with the key KeyFunc resolves.
type TrustVerifier struct {
	KeyFunc jwt.Keyfunc
}

// NewTrustVerifier builds a verifier around a fixed HMAC secret, the
// common case for a single-tenant orchestration core.
func NewTrustVerifier(secret []byte) *TrustVerifier {
	return &TrustVerifier{
		KeyFunc: func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("security: unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		},
	}
}

// Resolve parses and validates tokenString and returns the trust level its
// claims grant. It never raises a session's trust level as a side effect;
// callers apply the result via Context.TrustLevel themselves.
func (v *TrustVerifier) Resolve(tokenString string) (TrustLevel, error) {
	token, err := jwt.Parse(tokenString, v.KeyFunc, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return TrustUntrusted, fmt.Errorf("security: verify token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return TrustUntrusted, ErrInvalidTrustClaim
	}

	raw, ok := claims["trust_level"]
	if !ok {
		return TrustUntrusted, ErrInvalidTrustClaim
	}
	level, ok := raw.(float64) // encoding/json decodes JSON numbers as float64
	if !ok || level < float64(TrustUntrusted) || level > float64(TrustAdmin) {
		return TrustUntrusted, ErrInvalidTrustClaim
	}
	return TrustLevel(level), nil
}
