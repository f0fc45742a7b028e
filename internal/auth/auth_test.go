package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "s3cret", Issuer: "worklog-test"}

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig.Secret))
	require.NoError(t, err)
	return token
}

func TestParseClaims(t *testing.T) {
	token := sign(t, jwt.MapClaims{
		"sub":    "alice",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": "drafts:read drafts:review",
	})

	claims, err := ParseClaims(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.True(t, claims.HasScope(ScopeDraftsReview))
	require.False(t, claims.HasScope(ScopeDraftsSubmit))
}

func TestParseClaimsRejects(t *testing.T) {
	cases := map[string]jwt.MapClaims{
		"no subject":   {"iss": testConfig.Issuer, "exp": time.Now().Add(time.Hour).Unix()},
		"wrong issuer": {"sub": "alice", "iss": "other", "exp": time.Now().Add(time.Hour).Unix()},
		"expired":      {"sub": "alice", "iss": testConfig.Issuer, "exp": time.Now().Add(-time.Hour).Unix()},
		"no expiry":    {"sub": "alice", "iss": testConfig.Issuer},
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClaims(sign(t, claims), testConfig)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err := ParseClaims("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	handler := NewMiddleware(testConfig).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/drafts", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, `Bearer realm="worklog"`, rec.Header().Get("WWW-Authenticate"))

	basic := httptest.NewRequest(http.MethodGet, "/v1/drafts", nil)
	basic.SetBasicAuth("alice", "pw")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, basic)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/v1/drafts", nil)
	req.Header.Set("Authorization", "Bearer "+sign(t, jwt.MapClaims{
		"sub":    "bob",
		"iss":    testConfig.Issuer,
		"exp":    time.Now().Add(time.Hour).Unix(),
		"scopes": []string{ScopeDraftsRead},
	}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "bob", seen.Subject)
}

func TestIssueTokenRoundTrips(t *testing.T) {
	scopes, err := ParseScopes("drafts:read, drafts:review drafts:read")
	require.NoError(t, err)
	require.Equal(t, []string{ScopeDraftsRead, ScopeDraftsReview}, scopes)

	token, err := IssueToken(testConfig, "alice", scopes, time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := ParseClaims(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Subject)
	require.True(t, claims.HasScope(ScopeDraftsReview))
	require.False(t, claims.HasScope(ScopeDraftsSubmit))
}

func TestParseScopesRejectsUnknown(t *testing.T) {
	_, err := ParseScopes("drafts:read drafts:delete")
	require.ErrorContains(t, err, "drafts:delete")

	_, err = ParseScopes(" , ")
	require.Error(t, err)

	_, err = IssueToken(testConfig, "", KnownScopes, time.Hour, time.Now())
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	require.Equal(t, "abc", bearerToken("Bearer abc"))
	require.Equal(t, "abc", bearerToken("bearer  abc "))
	require.Empty(t, bearerToken("Basic abc"))
	require.Empty(t, bearerToken("Bearer"))
	require.Empty(t, bearerToken(""))
}

func TestMiddlewareCustomPublicPaths(t *testing.T) {
	handler := NewMiddleware(testConfig, "/status").Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
