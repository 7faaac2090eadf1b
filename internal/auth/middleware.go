package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyClaims is the key for storing session claims in gin context
	ContextKeyClaims = "sessionClaims"
	// ContextKeyStoreID is the key for storing the session's store id
	ContextKeyStoreID = "authStoreID"
	// ContextKeyAdmin marks requests that presented the admin secret
	ContextKeyAdmin = "authAdmin"

	// AdminHeader carries the operator secret.
	AdminHeader = "X-Admin-Secret"
)

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(h)
}

// Middleware extracts and validates the session token if present.
// Sets sessionClaims and authStoreID in context if valid.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := bearerToken(c); raw != "" && v.Enabled() {
			if claims, err := v.Verify(raw); err == nil {
				c.Set(ContextKeyClaims, claims)
				c.Set(ContextKeyStoreID, claims.StoreID)
			}
		}
		c.Next()
	}
}

// AdminMiddleware marks the request as admin when X-Admin-Secret matches.
func AdminMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if SecretMatches(c.GetHeader(AdminHeader), secret) {
			c.Set(ContextKeyAdmin, true)
		}
		c.Next()
	}
}

// RequireAuth rejects requests without a valid session
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAuthenticated(c) && !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Session token required. Include 'Authorization: Bearer <token>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose X-Admin-Secret does not match.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !SecretMatches(c.GetHeader(AdminHeader), secret) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "admin secret required",
			})
			return
		}
		c.Set(ContextKeyAdmin, true)
		c.Next()
	}
}

// RequireStoreOwnership requires a session for the store named by paramName.
// Admins pass.
func RequireStoreOwnership(paramName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAdmin(c) {
			c.Next()
			return
		}
		if !IsAuthenticated(c) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Session token required.",
			})
			return
		}
		if GetStoreID(c) != c.Param(paramName) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "You do not own this store.",
			})
			return
		}
		c.Next()
	}
}

// GetClaims returns the session claims from context (if authenticated)
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// GetStoreID returns the authenticated session's store id
func GetStoreID(c *gin.Context) string {
	return c.GetString(ContextKeyStoreID)
}

// IsAuthenticated checks if the request carries a valid session
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetClaims(c)
	return ok
}

// IsAdmin checks if the request presented a valid admin secret
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}
