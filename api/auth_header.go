package api

import (
	"errors"
	"strings"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

// bearerToken extracts a JWT from an Authorization header value. Anything
// that is not "Bearer" followed by a three-segment token is rejected before
// it reaches the parser.
func bearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	if len(h) <= len(bearerPrefix) || !strings.HasPrefix(h, bearerPrefix) {
		return "", errBadAuthorization
	}
	token := strings.TrimSpace(h[len(bearerPrefix):])
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
