// Package auth resolves the already-authenticated identity of HTTP requests.
// With a shared secret configured, identities come from HS256 bearer tokens;
// without one, the upstream proxy's trusted X-User-* headers are used.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/roomhub/internal/event"
)

// Trusted identity headers, honoured only when no secret is configured.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUsername = "X-Username"
	HeaderUserRole = "X-User-Role"
)

var (
	// ErrInvalidToken is returned for malformed or badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned for expired tokens.
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the identity claims carried by a token.
type Claims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier issues and validates identity tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret, or nil when secret is empty.
func NewVerifier(secret string) *Verifier {
	if secret == "" {
		return nil
	}
	return &Verifier{secret: []byte(secret)}
}

// Issue signs a token for id valid for ttl.
func (v *Verifier) Issue(id event.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		Role:     string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.UserID, 10),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse validates token and returns the identity it carries.
func (v *Verifier) Parse(token string) (event.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return event.Identity{}, ErrExpiredToken
		}
		return event.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return event.Identity{}, ErrInvalidToken
	}

	id := event.Identity{UserID: claims.UserID, Username: claims.Username, Role: event.Role(claims.Role)}
	if !id.Valid() {
		return event.Identity{}, ErrInvalidToken
	}
	if id.Role == "" {
		id.Role = event.RoleUser
	}
	return id, nil
}

type contextKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id event.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) (event.Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(event.Identity)
	return id, ok
}

// Middleware attaches the request's identity to its context when one can be
// resolved. A nil verifier trusts the X-User-* headers. Requests without an
// identity pass through; RequireIdentity rejects them where needed.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				id  event.Identity
				err error
			)
			if v != nil {
				id, err = v.fromBearer(r)
			} else {
				id, err = fromHeaders(r)
			}

			switch {
			case err == nil:
				r = r.WithContext(WithIdentity(r.Context(), id))
			case errors.Is(err, errNoCredentials):
			default:
				writeUnauthorized(w, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireIdentity rejects requests that carry no identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

var errNoCredentials = errors.New("no credentials")

func (v *Verifier) fromBearer(r *http.Request) (event.Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return event.Identity{}, errNoCredentials
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return event.Identity{}, ErrInvalidToken
	}
	return v.Parse(token)
}

func fromHeaders(r *http.Request) (event.Identity, error) {
	raw := r.Header.Get(HeaderUserID)
	if raw == "" {
		return event.Identity{}, errNoCredentials
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return event.Identity{}, errors.New("invalid " + HeaderUserID + " header")
	}

	id := event.Identity{
		UserID:   userID,
		Username: strings.TrimSpace(r.Header.Get(HeaderUsername)),
		Role:     event.Role(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
	}
	if !id.Valid() {
		return event.Identity{}, errors.New("incomplete identity headers")
	}
	if id.Role == "" {
		id.Role = event.RoleUser
	}
	return id, nil
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"error":` + strconv.Quote(msg) + `}`))
}
