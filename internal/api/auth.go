package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ClientClaims carries the SDK client identity inside a signed token.
type ClientClaims struct {
	ClientID   string `json:"client_id"`
	TelegramID int64  `json:"telegram_id"`
	jwt.RegisteredClaims
}

// generateToken issues a signed JWT for a registered SDK client.
func generateToken(jwtSecret, clientID string, telegramID int64) (string, error) {
	claims := ClientClaims{
		ClientID:   clientID,
		TelegramID: telegramID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   clientID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(jwtSecret))
}

// parseToken validates a client JWT and returns its claims.
func parseToken(jwtSecret, tokenString string) (*ClientClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ClientClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ClientClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// SDKAuthMiddleware authenticates SDK requests. Clients present either the
// shared API secret (X-API-Secret header) or a JWT obtained at registration
// (Authorization: Bearer).
func SDKAuthMiddleware(apiSecret, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret := c.GetHeader("X-API-Secret"); secret != "" {
			if subtle.ConstantTimeCompare([]byte(secret), []byte(apiSecret)) == 1 {
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API secret"})
			c.Abort()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := parseToken(jwtSecret, tokenString)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
				c.Abort()
				return
			}
			c.Set("ClientID", claims.ClientID)
			c.Set("TelegramID", claims.TelegramID)
			c.Next()
			return
		}

		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		c.Abort()
	}
}
