package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret []byte, role Role, cdpID uint64, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	c := claims{
		Role:  role,
		CDPID: cdpID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func newRequestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/lending/pools", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestFromRequestRejectsMissingToken(t *testing.T) {
	v := NewVerifier([]byte("secret"))
	_, err := v.FromRequest(newRequestWithToken(""))
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestFromRequestRejectsWrongSecret(t *testing.T) {
	v := NewVerifier([]byte("secret"))
	token := signToken(t, []byte("other-secret"), RoleAdmin, 0, false)
	_, err := v.FromRequest(newRequestWithToken(token))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequestRejectsExpiredToken(t *testing.T) {
	secret := []byte("secret")
	v := NewVerifier(secret)
	token := signToken(t, secret, RoleAdmin, 0, true)
	_, err := v.FromRequest(newRequestWithToken(token))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequestAcceptsValidToken(t *testing.T) {
	secret := []byte("secret")
	v := NewVerifier(secret)
	token := signToken(t, secret, RoleModerator, 0, false)

	verified, err := v.FromRequest(newRequestWithToken(token))
	require.NoError(t, err)
	require.Equal(t, RoleModerator, verified.Role)
}

func TestRequireRoleRejectsWrongRole(t *testing.T) {
	secret := []byte("secret")
	v := NewVerifier(secret)
	token := signToken(t, secret, RoleModerator, 0, false)

	called := false
	handler := v.RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestWithToken(token))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.False(t, called)
}

func TestRequireRoleAllowsMatchingRoleAndStashesClaims(t *testing.T) {
	secret := []byte("secret")
	v := NewVerifier(secret)
	token := signToken(t, secret, RoleAdmin, 0, false)

	var gotRole Role
	handler := v.RequireRole(RoleAdmin, RoleModerator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verified, ok := FromContext(r.Context())
		require.True(t, ok)
		gotRole = verified.Role
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestWithToken(token))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, RoleAdmin, gotRole)
}

func TestRequireCDPProofMatchesCDPID(t *testing.T) {
	ctx := context.WithValue(context.Background(), verifiedContextKey, Verified{Role: RoleCDPProof, CDPID: 42})
	require.NoError(t, RequireCDPProof(ctx, 42))
	require.ErrorIs(t, RequireCDPProof(ctx, 7), ErrCDPMismatch)
}

func TestRequireCDPProofRejectsWrongRole(t *testing.T) {
	ctx := context.WithValue(context.Background(), verifiedContextKey, Verified{Role: RoleAdmin, CDPID: 42})
	require.ErrorIs(t, RequireCDPProof(ctx, 42), ErrWrongRole)
}

func TestRequireCDPProofRejectsMissingClaims(t *testing.T) {
	require.ErrorIs(t, RequireCDPProof(context.Background(), 42), ErrMissingToken)
}
