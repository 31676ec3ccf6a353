package adminapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware gates the admin surface's write endpoints (pause/stop)
// behind a bearer token. There is no login flow: credentials are minted
// out-of-band and handed to operators. Two forms are accepted, a signed
// HS256 JWT or a static operator key whose bcrypt hash is configured at
// startup (for a single-operator deployment with no token-minting step
// at all).
type AuthMiddleware struct {
	secret  []byte
	keyHash []byte // bcrypt hash of an accepted static operator key, or nil to disable
}

func NewAuthMiddleware(secret []byte, staticKeyHash []byte) *AuthMiddleware {
	return &AuthMiddleware{secret: secret, keyHash: staticKeyHash}
}

func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid token", "code": "unauthorized"},
			})
			return
		}
		if am.acceptsStaticKey(tokenString) {
			c.Next()
			return
		}
		_, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return am.secret, nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": err.Error(), "code": "unauthorized"},
			})
			return
		}
		c.Next()
	}
}

func (am *AuthMiddleware) acceptsStaticKey(candidate string) bool {
	if len(am.keyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(am.keyHash, []byte(candidate)) == nil
}

// HashStaticKey bcrypt-hashes a static operator key for NewAuthMiddleware's
// staticKeyHash argument, so operators never need to store the plaintext
// key on the server itself.
func HashStaticKey(key string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return authHeader[7:]
	}
	return ""
}
