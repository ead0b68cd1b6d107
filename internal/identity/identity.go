// Package identity authenticates WebSocket upgrades. Callers present an
// HS256-signed JWT either as a "token" query parameter or as a Bearer
// Authorization header; the verified user id becomes the identity of every
// event on that connection.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when the request carries no credentials.
	ErrMissingToken = errors.New("identity: missing token")
	// ErrInvalidToken is returned when a token fails verification or names
	// no user.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// Claims is the JWT payload. UserID falls back to the standard subject claim.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier signs and verifies user tokens with a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a Verifier. An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Issue creates a signed token for userID valid for ttl.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature, expiry and issuer and returns the user
// id it names.
func (v *Verifier) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	user := claims.UserID
	if user == "" {
		user = claims.Subject
	}
	if user == "" {
		return "", fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return user, nil
}

// TokenFromRequest extracts a token from the "token" query parameter or the
// Authorization header.
func TokenFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Authenticator resolves the user behind an upgrade request.
type Authenticator struct {
	verifier *Verifier

	// allowInsecure accepts a plain "user_id" query parameter when no token
	// is present. Development and load testing only.
	allowInsecure bool
}

// NewAuthenticator creates an Authenticator. A nil verifier rejects every
// token-bearing request.
func NewAuthenticator(v *Verifier, allowInsecureUserID bool) *Authenticator {
	return &Authenticator{verifier: v, allowInsecure: allowInsecureUserID}
}

// Authenticate returns the user id for r.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	tok := TokenFromRequest(r)
	if tok == "" {
		if a.allowInsecure {
			if user := strings.TrimSpace(r.URL.Query().Get("user_id")); user != "" {
				return user, nil
			}
		}
		return "", ErrMissingToken
	}
	if a.verifier == nil {
		return "", ErrInvalidToken
	}
	return a.verifier.Verify(tok)
}
