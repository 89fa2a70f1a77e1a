package middlewares

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ClaimsKey       = "user"
	RestaurantIDKey = "restaurant_id"
	RoleAdmin       = "admin"
)

// RequireAuth validates the bearer token and stores its claims under "user".
// The restaurant a caller acts for comes from the restaurant_id claim.
func RequireAuth(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		auth := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Missing bearer token"})
			return
		}

		token, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		}, jwt.WithLeeway(30*time.Second))
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid or expired token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid token claims"})
			return
		}
		ctx.Set(ClaimsKey, claims)
		if id, ok := claims[RestaurantIDKey].(float64); ok && id > 0 {
			ctx.Set(RestaurantIDKey, uint(id))
		}
		ctx.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if _, exists := ctx.Get(ClaimsKey); !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "User not found in context"})
			return
		}
		if !IsAdmin(ctx) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Admin access required"})
			return
		}
		ctx.Next()
	}
}

func IsAdmin(ctx *gin.Context) bool {
	v, ok := ctx.Get(ClaimsKey)
	if !ok {
		return false
	}
	claims, ok := v.(jwt.MapClaims)
	if !ok {
		return false
	}
	role, _ := claims["role"].(string)
	return role == RoleAdmin
}

// RestaurantID is 0 for callers not acting for a restaurant.
func RestaurantID(ctx *gin.Context) uint {
	if v, ok := ctx.Get(RestaurantIDKey); ok {
		if id, ok := v.(uint); ok {
			return id
		}
	}
	return 0
}

// IssueToken signs the claims RequireAuth expects. Used by tooling and tests;
// login itself lives in the user service.
func IssueToken(secret string, restaurantID uint, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if restaurantID > 0 {
		claims[RestaurantIDKey] = restaurantID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
