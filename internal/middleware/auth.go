package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

// AccountIDKey is the gin context key the auth middleware stores the caller's
// account id under.
const AccountIDKey = "account_id"

type claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// Auth validates the Bearer token issued by the external account service and
// injects the account id into the request context. Token issuance itself lives
// outside this backend.
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		accountID, err := ParseAccountID(token, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session token"})
			return
		}

		c.Set(AccountIDKey, accountID)
		c.Next()
	}
}

// ParseAccountID verifies a token and extracts its account id claim.
func ParseAccountID(tokenString, secret string) (string, error) {
	var parsed claims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	if parsed.AccountID != "" {
		return parsed.AccountID, nil
	}
	return parsed.Subject, nil
}
