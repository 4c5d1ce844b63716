// Package auth issues and verifies the HS256 session tokens that carry a
// user id. Credential checks live in the store; this package only trusts
// what it signed.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthenticated is returned for a missing, malformed or expired token.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims are the token claims. The subject is the decimal user id.
type Claims struct {
	jwt.RegisteredClaims
}

// JWT signs and verifies tokens with one shared secret.
type JWT struct {
	secret []byte
	issuer string
	ttl    time.Duration

	Now func() time.Time
}

// NewJWT returns a signer. The secret must not be empty.
func NewJWT(secret, issuer string, ttl time.Duration) (*JWT, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWT{secret: []byte(secret), issuer: issuer, ttl: ttl, Now: time.Now}, nil
}

// Sign issues a token for userID.
func (j *JWT) Sign(userID int64) (string, error) {
	now := j.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Verify parses token and returns the user id it was issued for.
func (j *JWT) Verify(token string) (int64, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.Now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return 0, ErrUnauthenticated
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: bad subject", ErrUnauthenticated)
	}
	return id, nil
}

type ctxKey struct{}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the authenticated user id stored by the middleware.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ctxKey{}).(int64)
	return id, ok
}

// TokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter that browsers use for websocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// Authenticate verifies the request's token.
func (j *JWT) Authenticate(r *http.Request) (int64, error) {
	tok := TokenFromRequest(r)
	if tok == "" {
		return 0, ErrUnauthenticated
	}
	return j.Verify(tok)
}

// Middleware rejects unauthenticated requests with 401 and stores the user
// id in the request context otherwise.
func (j *JWT) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := j.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}
