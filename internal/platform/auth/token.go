package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenRequest describes a staff token to sign.
type TokenRequest struct {
	Subject  string
	Roles    []string
	Issuer   string
	Audience string
	TTL      time.Duration
}

// IssueToken signs an HS256 token accepted by JWTMiddleware configured with
// the same key, issuer and audience.
func IssueToken(key []byte, req TokenRequest, now time.Time) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("signing key is required")
	}
	if req.Subject == "" {
		return "", fmt.Errorf("subject is required")
	}
	for _, r := range req.Roles {
		if !ValidRole(r) {
			return "", fmt.Errorf("unknown role: %s", r)
		}
	}
	if req.TTL <= 0 {
		req.TTL = time.Hour
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   req.Subject,
			Issuer:    req.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(req.TTL)),
		},
		Roles: req.Roles,
	}
	if req.Audience != "" {
		claims.Audience = jwt.ClaimStrings{req.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
