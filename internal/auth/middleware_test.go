package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func guardedRouter(guard gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/enroll", guard, func(c *gin.Context) {
		operator, _ := OperatorFromContext(c.Request.Context())
		c.String(http.StatusOK, operator)
	})
	return router
}

func TestVerifierMiddleware(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   "operator-1",
		Audience:  jwt.ClaimStrings{"facegate"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noSubject := valid
	noSubject.Subject = ""

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + signToken(t, testSecret, valid), http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", valid), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, expired), http.StatusUnauthorized},
		{"no subject", "Bearer " + signToken(t, testSecret, noSubject), http.StatusUnauthorized},
	}

	router := guardedRouter(NewVerifier(testSecret, "facegate").Middleware())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/enroll", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, resp.Code)
			}
			if tc.status == http.StatusOK && resp.Body.String() != "operator-1" {
				t.Fatalf("expected operator in context, got %q", resp.Body.String())
			}
		})
	}
}

func TestVerifierRejectsWrongAudience(t *testing.T) {
	token := signToken(t, testSecret, jwt.RegisteredClaims{Subject: "op", Audience: jwt.ClaimStrings{"other"}})
	router := guardedRouter(NewVerifier(testSecret, "facegate").Middleware())

	req := httptest.NewRequest(http.MethodGet, "/enroll", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestEnrollmentGuardWithoutSecretAllowsAll(t *testing.T) {
	router := guardedRouter(EnrollmentGuard("", ""))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/enroll", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func TestVerifierOperatorErrors(t *testing.T) {
	v := NewVerifier(testSecret, "")
	valid := signToken(t, testSecret, jwt.RegisteredClaims{Subject: "op"})
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "op"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("failed to sign unsecured token: %v", err)
	}

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"empty", "", ErrMissingToken},
		{"scheme only", "Bearer ", ErrMissingToken},
		{"unsigned", "Bearer " + none, ErrInvalidToken},
		{"garbage", "Bearer not.a.jwt", ErrInvalidToken},
		{"no subject", "Bearer " + signToken(t, testSecret, jwt.RegisteredClaims{}), ErrMissingSubject},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.Operator(tc.header); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	operator, err := v.Operator("bearer " + valid)
	if err != nil || operator != "op" {
		t.Fatalf("expected op, got %q (%v)", operator, err)
	}
}
