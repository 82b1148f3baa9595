package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"loanchain/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testCaller(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[0] = b
	raw[19] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw)
}

func signToken(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func callerEcho() (http.Handler, *crypto.Address) {
	var seen crypto.Address
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}), &seen
}

func TestAuthenticatorAcceptsSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "loan-issuer"}, nil)
	next, seen := callerEcho()
	handler := auth.Middleware(next)

	caller := testCaller(9)
	token := signToken(t, jwt.RegisteredClaims{
		Subject:   caller.String(),
		Issuer:    "loan-issuer",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	req := httptest.NewRequest(http.MethodPost, "/loans", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, caller, *seen)
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "loan-issuer"}, nil)
	next, _ := callerEcho()
	handler := auth.Middleware(next)
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	cases := map[string]string{
		"missing":       "",
		"wrong issuer":  signToken(t, jwt.RegisteredClaims{Subject: testCaller(1).String(), Issuer: "other", ExpiresAt: future}),
		"no expiry":     signToken(t, jwt.RegisteredClaims{Subject: testCaller(1).String(), Issuer: "loan-issuer"}),
		"expired":       signToken(t, jwt.RegisteredClaims{Subject: testCaller(1).String(), Issuer: "loan-issuer", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))}),
		"bad subject":   signToken(t, jwt.RegisteredClaims{Subject: "alice", Issuer: "loan-issuer", ExpiresAt: future}),
		"garbage token": "not.a.token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/loans", nil)
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, http.StatusUnauthorized, res.Code)
		})
	}
}

func TestAuthenticatorAnonymousReads(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, AllowAnonymousReads: true}, nil)
	next, _ := callerEcho()
	handler := auth.Middleware(next)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/loans", nil))
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestAuthenticatorDisabledUsesHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	next, seen := callerEcho()
	handler := auth.Middleware(next)

	req := httptest.NewRequest(http.MethodPost, "/loans", nil)
	req.Header.Set(CallerHeader, testCaller(4).String())
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, testCaller(4), *seen)

	req = httptest.NewRequest(http.MethodPost, "/loans", nil)
	req.Header.Set(CallerHeader, "bogus")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", res.Header().Get(RequestIDHeader))

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Len(t, res.Header().Get(RequestIDHeader), 36)
}
