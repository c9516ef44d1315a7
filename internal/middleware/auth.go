package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

var authRedis *redis.Client

// InitAuthMiddleware hands the middleware the Redis client used for the
// logout blacklist. A nil client disables the blacklist check.
func InitAuthMiddleware(rdb *redis.Client) {
	authRedis = rdb
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		// Extract token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		token := parts[1]

		// Logged-out tokens are blacklisted until expiry
		if authRedis != nil {
			if _, err := authRedis.Get(r.Context(), fmt.Sprintf("blacklist:%s", token)).Result(); err == nil {
				http.Error(w, "Token revoked", http.StatusUnauthorized)
				return
			}
		}

		userID, tenantID, role, err := validateToken(token)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "userID", userID)
		ctx = context.WithValue(ctx, "role", role)
		if tenantID != nil {
			ctx = context.WithValue(ctx, "tenantID", *tenantID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func validateToken(tokenString string) (string, *int, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})

	if err != nil || !token.Valid {
		return "", nil, "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, "", jwt.ErrTokenInvalidClaims
	}

	userID := fmt.Sprintf("%v", claims["user_id"])
	role := fmt.Sprintf("%v", claims["role"])

	var tenantID *int
	if raw, ok := claims["tenant_id"].(float64); ok {
		id := int(raw)
		tenantID = &id
	}

	return userID, tenantID, role, nil
}
