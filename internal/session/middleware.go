package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const sessionIDKey contextKey = "sessionID"

// CookieName is the cookie a browser may carry instead of a bearer token.
const CookieName = "optic_session"

// DefaultTokenTTL bounds how long a session token is honoured.
const DefaultTokenTTL = 24 * time.Hour

const tokenIssuer = "optic"

// GetSessionID retrieves the session bound to the request context.
func GetSessionID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(sessionIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// Tokens signs and verifies session tokens. A token only binds a browser to
// its anonymous workflow session; it carries no user identity.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens builds a signer for secret.
func NewTokens(secret string, ttl time.Duration) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("missing session secret")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for sessionID.
func (t *Tokens) Issue(sessionID string) (string, error) {
	now := t.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse verifies tokenString and returns the session it names.
func (t *Tokens) Parse(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(t.now))
	if err != nil || !token.Valid {
		return "", errors.New("invalid session token")
	}
	if claims.Subject == "" {
		return "", errors.New("missing session subject")
	}
	return claims.Subject, nil
}

// Middleware resolves the session token from the Authorization header or
// the session cookie and injects the session ID.
func Middleware(tokens *Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractToken(c)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		sessionID, err := tokens.Parse(tokenString)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		ctx := context.WithValue(c.Request.Context(), sessionIDKey, sessionID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(string(sessionIDKey), sessionID)

		c.Next()
	}
}

func extractToken(c *gin.Context) (string, error) {
	if header := c.Request.Header.Get("Authorization"); header != "" {
		return extractBearerToken(header)
	}
	if cookie, err := c.Cookie(CookieName); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie), nil
	}
	return "", errors.New("session token required")
}

func extractBearerToken(header string) (string, error) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("token missing")
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
