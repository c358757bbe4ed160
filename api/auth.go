package api

import (
	"errors"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	errNoExpiry    = errors.New("token has no expiry")
	errNoSubject   = errors.New("token has no subject")
	errAudience    = errors.New("token audience mismatch")
	errIssuer      = errors.New("token issuer mismatch")
	errNoJWKS      = errors.New("jwks not configured")
	errWrongMethod = errors.New("unexpected signing method")
)

// Auth resolves the player account behind a live connection. Production
// tokens are RS256 and checked against the tenant JWKS, which keyfunc caches
// and refreshes; test mode accepts HS256 tokens signed with a shared secret.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser *jwt.Parser
}

func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{
		JWKS:     jwks,
		Audience: audience,
		Issuer:   issuer,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}
}

func NewTestAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Audience:   audience,
		Issuer:     issuer,
		TestMode:   true,
		TestSecret: secret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// UserIDFromAuthHeader returns the subject of the bearer token in h.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer validates a raw token. Live connections are long-lived,
// so the token must carry an expiry even though the socket outlives it.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	var claims jwt.RegisteredClaims
	if _, err := a.parser.ParseWithClaims(token, &claims, a.key); err != nil {
		return "", err
	}
	switch {
	case claims.ExpiresAt == nil:
		return "", errNoExpiry
	case a.Audience != "" && !claims.VerifyAudience(a.Audience, true):
		return "", errAudience
	case a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, true):
		return "", errIssuer
	case claims.Subject == "":
		return "", errNoSubject
	}
	return claims.Subject, nil
}

func (a *Auth) key(t *jwt.Token) (any, error) {
	if a.TestMode {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errWrongMethod
		}
		return a.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errNoJWKS
	}
	return a.JWKS.Keyfunc(t)
}

// SignTestToken issues an HS256 token for sub that test-mode Auth accepts.
func SignTestToken(secret []byte, sub, audience, issuer string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("test secret is empty")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
