package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/zhaobenny/gasometer/internal/apikey"
)

// ErrUnauthorized is returned when a bearer token is missing or wrong
var ErrUnauthorized = errors.New("unauthorized")

// Verifier checks the shared ingest secret. A Verifier with no secret
// accepts every request.
type Verifier struct {
	secret []byte
	hashed bool
}

// NewVerifier returns a verifier for secret. A secret that looks like a
// bcrypt hash is compared with bcrypt, anything else in constant time.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		hashed: apikey.IsHash(secret),
	}
}

// Open reports whether no secret is configured
func (v *Verifier) Open() bool {
	return v == nil || len(v.secret) == 0
}

// Check verifies an Authorization header value
func (v *Verifier) Check(authHeader string) error {
	if v.Open() {
		return nil
	}

	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return ErrUnauthorized
	}

	if v.hashed {
		if !apikey.Matches(string(v.secret), token) {
			return ErrUnauthorized
		}
		return nil
	}
	if subtle.ConstantTimeCompare(v.secret, []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}
