// Package auth verifies the bearer tokens the lending market's HTTP API
// requires for privileged operations, adapted from the teacher's gateway
// JWT middleware (gateway/middleware/auth.go): HMAC-signed tokens carrying
// a role claim, checked against the scopes a route declares it needs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role names the privilege a verified token grants. CDPProof is distinct
// from the others: it doesn't grant a blanket privilege, it asserts the
// caller controls a specific cdp_id, checked by RequireCDPProof against
// the id in the request path.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleModerator       Role = "moderator"
	RoleReserveCollector Role = "reserve_collector"
	RoleCDPProof        Role = "cdp_proof"
)

var (
	ErrMissingToken  = errors.New("auth: missing bearer token")
	ErrInvalidToken  = errors.New("auth: invalid or expired token")
	ErrWrongRole     = errors.New("auth: token does not grant the required role")
	ErrCDPMismatch   = errors.New("auth: token's cdp_id does not match the requested cdp")
)

type claims struct {
	Role  Role   `json:"role"`
	CDPID uint64 `json:"cdp_id,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates bearer tokens signed with a shared HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier constructs a Verifier for the given HMAC secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verified carries the claims extracted from a validated token.
type Verified struct {
	Role  Role
	CDPID uint64
}

type contextKey int

const verifiedContextKey contextKey = iota

// FromRequest extracts and validates the bearer token on r, returning its
// claims.
func (v *Verifier) FromRequest(r *http.Request) (Verified, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return Verified{}, ErrMissingToken
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Verified{}, ErrInvalidToken
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return Verified{}, ErrInvalidToken
	}
	return Verified{Role: c.Role, CDPID: c.CDPID}, nil
}

// RequireRole returns middleware that rejects requests whose token does
// not carry one of the allowed roles, stashing the verified claims in the
// request context for downstream handlers.
func (v *Verifier) RequireRole(allowed ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			verified, err := v.FromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			ok := false
			for _, role := range allowed {
				if verified.Role == role {
					ok = true
					break
				}
			}
			if !ok {
				http.Error(w, ErrWrongRole.Error(), http.StatusForbidden)
				return
			}
			ctx := context.WithValue(r.Context(), verifiedContextKey, verified)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext retrieves the Verified claims a RequireRole middleware
// stashed on the request context.
func FromContext(ctx context.Context) (Verified, bool) {
	v, ok := ctx.Value(verifiedContextKey).(Verified)
	return v, ok
}

// RequireCDPProof checks that a cdp_proof token's cdp_id matches cdpID,
// for routes that let a CDP's owner act on it directly (e.g. closing a
// delegatee link) without an admin/moderator role.
func RequireCDPProof(ctx context.Context, cdpID uint64) error {
	verified, ok := FromContext(ctx)
	if !ok {
		return ErrMissingToken
	}
	if verified.Role != RoleCDPProof {
		return ErrWrongRole
	}
	if verified.CDPID != cdpID {
		return ErrCDPMismatch
	}
	return nil
}
