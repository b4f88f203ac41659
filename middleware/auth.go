package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Context keys set by AuthMiddleware.
const (
	ContextUserID   = "user_id"
	ContextName     = "user_name"
	ContextVerified = "verified"
)

// Claims are issued by the identity service. Subject carries the user id;
// name is optional and only seeds the user row the first time a caller is
// seen.
type Claims struct {
	Name     string `json:"name,omitempty"`
	Verified bool   `json:"verified"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for userID. The quest service only
// verifies tokens; this exists for tooling and tests.
func SignToken(secret string, userID uuid.UUID, verified bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Verified: verified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates tokenString and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("invalid subject: %w", err)
	}
	return claims, nil
}

func tokenFromRequest(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	// Browsers cannot set headers on a websocket handshake.
	if websocketUpgrade(c.Request) {
		return c.Query("token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the caller in the gin context.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required", "code": "unauthenticated"})
			return
		}
		claims, err := ParseToken(jwtSecret, token)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": "unauthenticated"})
			return
		}
		c.Set(ContextUserID, uuid.MustParse(claims.Subject))
		c.Set(ContextName, claims.Name)
		c.Set(ContextVerified, claims.Verified)
		c.Next()
	}
}

// RequireVerified only lets callers with a verified account through. It
// must run after AuthMiddleware.
func RequireVerified() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(ContextVerified) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "A verified account is required", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}

// UserID returns the caller set by AuthMiddleware.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// AdminToken guards operational endpoints with a shared secret. An empty
// token disables them.
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.GetHeader("X-Admin-Token") != token {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin token required", "code": "unauthorized"})
			return
		}
		c.Next()
	}
}
