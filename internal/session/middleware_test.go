package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T, tokens *Tokens) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", Middleware(tokens), func(c *gin.Context) {
		id, ok := GetSessionID(c.Request.Context())
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id)
	})
	return router
}

func TestTokensRoundTrip(t *testing.T) {
	tokens, err := NewTokens(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	token, err := tokens.Issue("session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := tokens.Parse(token)
	if err != nil || id != "session-1" {
		t.Fatalf("expected session-1, got %q %v", id, err)
	}
}

func TestTokensRejectExpiredAndForeign(t *testing.T) {
	tokens, _ := NewTokens(testSecret, time.Minute)
	issuedAt := time.Now().Add(-time.Hour)
	tokens.now = func() time.Time { return issuedAt }
	expired, _ := tokens.Issue("session-1")
	tokens.now = time.Now

	if _, err := tokens.Parse(expired); err == nil {
		t.Fatal("expected expired token to be rejected")
	}

	other, _ := NewTokens("other-secret", time.Hour)
	foreign, _ := other.Issue("session-1")
	if _, err := tokens.Parse(foreign); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}

	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if _, err := tokens.Parse(noSubject); err == nil {
		t.Fatal("expected token without subject to be rejected")
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("  ", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestMiddlewareAcceptsBearerAndCookie(t *testing.T) {
	tokens, _ := NewTokens(testSecret, time.Hour)
	router := newTestRouter(t, tokens)
	token, _ := tokens.Issue("session-42")

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || resp.Body.String() != "session-42" {
		t.Fatalf("bearer: unexpected response %d %q", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || resp.Body.String() != "session-42" {
		t.Fatalf("cookie: unexpected response %d %q", resp.Code, resp.Body.String())
	}
}

func TestMiddlewareRejectsMissingOrInvalid(t *testing.T) {
	tokens, _ := NewTokens(testSecret, time.Hour)
	router := newTestRouter(t, tokens)

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"empty":     "Bearer  ",
		"garbage":   "Bearer not-a-jwt",
	} {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, resp.Code)
		}
	}
}
