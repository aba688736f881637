package tokengate

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Classifier decides whether a stored credential is an access credential.
type Classifier interface {
	IsAccessToken(token string) bool
}

// ClassifierFunc adapts a plain function.
type ClassifierFunc func(token string) bool

func (f ClassifierFunc) IsAccessToken(token string) bool { return f(token) }

// AnyToken accepts every non-empty value.
var AnyToken = ClassifierFunc(func(token string) bool { return token != "" })

// accessClaims mirrors the SimpleJWT payload.
type accessClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// JWTClassifier reads JWT claims without verifying the signature: the remote
// service is the one that verifies. Refresh tokens are rejected, and expired
// tokens too when RejectExpired is set. Values that are not JWTs at all are
// treated as opaque access tokens.
type JWTClassifier struct {
	RejectExpired bool
	Now           func() time.Time
}

func (c JWTClassifier) IsAccessToken(token string) bool {
	if token == "" {
		return false
	}
	if strings.Count(token, ".") != 2 {
		return true
	}

	claims := &accessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if strings.EqualFold(claims.TokenType, "refresh") {
		return false
	}
	if c.RejectExpired && claims.ExpiresAt != nil {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		if !claims.ExpiresAt.After(now()) {
			return false
		}
	}
	return true
}
