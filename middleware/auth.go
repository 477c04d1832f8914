package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Itish41/IAOMS/models"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ContextUserKey      = "user"
	ContextUserIDKey    = "user_id"
	ContextRequestIDKey = "request_id"
)

// UserMetadata is the profile Supabase keeps in user_metadata.
type UserMetadata struct {
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department"`
	Branch     string `json:"branch"`
}

// Claims are the Supabase access token claims the API reads.
type Claims struct {
	Email        string       `json:"email"`
	Phone        string       `json:"phone"`
	UserMetadata UserMetadata `json:"user_metadata"`
	jwt.RegisteredClaims
}

// User maps the claims onto the directory model.
func (c *Claims) User() models.User {
	return models.User{
		ID:         c.Subject,
		Name:       c.UserMetadata.Name,
		Role:       c.UserMetadata.Role,
		Department: c.UserMetadata.Department,
		Branch:     c.UserMetadata.Branch,
		Email:      c.Email,
		Phone:      c.Phone,
	}
}

// JWTAuth verifies an HS256 Supabase token from the Authorization header,
// or from the token query parameter for EventSource clients.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string
		if parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2); len(parts) == 2 && parts[0] == "Bearer" {
			tokenString = parts[1]
		}
		if tokenString == "" {
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization is required"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if claims.Subject == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token claims"})
			return
		}

		c.Set(ContextUserKey, claims.User())
		c.Set(ContextUserIDKey, claims.Subject)
		c.Next()
	}
}

// CurrentUser returns the user set by JWTAuth.
func CurrentUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
