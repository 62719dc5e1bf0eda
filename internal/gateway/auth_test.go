package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func validClaims(userID string) Claims {
	return Claims{
		UserID:   userID,
		TenantID: "tenant-a",
		Roles:    []string{"admin"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func TestValidatorAcceptsWellFormedToken(t *testing.T) {
	v := NewValidator([]byte(testSecret), "", "")
	token := signToken(t, validClaims("user-1"))

	authCtx, err := v.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", authCtx.UserID)
	require.Equal(t, "tenant-a", authCtx.TenantID)
	require.Equal(t, []string{"admin"}, authCtx.Roles)
}

func TestValidatorRejectsBadSignature(t *testing.T) {
	v := NewValidator([]byte(testSecret), "", "")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims("user-1"))
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = v.Validate(signed)
	require.Error(t, err)
}

func TestValidatorRejectsExpiredToken(t *testing.T) {
	v := NewValidator([]byte(testSecret), "", "")
	claims := validClaims("user-1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	token := signToken(t, claims)

	_, err := v.Validate(token)
	require.Error(t, err)
}

func TestValidatorRejectsMissingUserID(t *testing.T) {
	v := NewValidator([]byte(testSecret), "", "")
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	token := signToken(t, claims)

	_, err := v.Validate(token)
	require.Error(t, err)
}

func TestValidatorRejectsWrongIssuerOrAudience(t *testing.T) {
	v := NewValidator([]byte(testSecret), "expected-issuer", "expected-audience")
	token := signToken(t, validClaims("user-1"))

	_, err := v.Validate(token)
	require.Error(t, err)
}

func TestBearerTokenParsing(t *testing.T) {
	token, ok := bearerToken("Bearer abc.def.ghi")
	require.True(t, ok)
	require.Equal(t, "abc.def.ghi", token)

	_, ok = bearerToken("abc.def.ghi")
	require.False(t, ok)

	_, ok = bearerToken("Bearer ")
	require.False(t, ok)

	_, ok = bearerToken("")
	require.False(t, ok)
}

// TestAuthMiddlewareStripsSpoofedHeaderAndInjectsValidated is Scenario G:
// a client-supplied X-User-ID must never survive to the backend — only
// the identity extracted from the JWT Gateway validated is forwarded.
func TestAuthMiddlewareStripsSpoofedHeaderAndInjectsValidated(t *testing.T) {
	v := NewValidator([]byte(testSecret), "", "")
	token := signToken(t, validClaims("real-user"))

	var sawUserID, sawTenantID string
	router := mux.NewRouter()
	router.Use(AuthMiddleware(v))
	router.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		sawUserID = r.Header.Get("X-User-ID")
		sawTenantID = r.Header.Get("X-Tenant-ID")
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-User-ID", "attacker-supplied-id")
	req.Header.Set("X-Tenant-ID", "attacker-supplied-tenant")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "real-user", sawUserID)
	require.Equal(t, "tenant-a", sawTenantID)
}

// TestAuthMiddlewareRejectsMissingToken asserts the X-User-ID-present
// XOR 401 invariant: without a valid token, the request never reaches
// the backend and no identity header is ever set.
func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	v := NewValidator([]byte(testSecret), "", "")

	called := false
	router := mux.NewRouter()
	router.Use(AuthMiddleware(v))
	router.HandleFunc("/protected", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.False(t, called)
}

func TestAuthMiddlewareAllowsPublicPathsWithoutToken(t *testing.T) {
	v := NewValidator([]byte(testSecret), "", "")

	router := mux.NewRouter()
	router.Use(AuthMiddleware(v))
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
