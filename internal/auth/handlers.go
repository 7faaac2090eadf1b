package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints describing the caller's session
type Handler struct{}

// NewHandler creates a new auth handler
func NewHandler() *Handler {
	return &Handler{}
}

// Info returns auth configuration info
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"type":   "session",
		"header": "Authorization: Bearer <identity-provider session token>",
		"publicEndpoints": []string{
			"POST /v1/checkout (signup)",
			"GET /v1/confirm/stores/:id",
			"GET /v1/confirm/orders/:orderNumber",
			"POST /webhooks/gateway",
		},
		"adminHeader": AdminHeader,
	})
}

// Me handles GET /v1/auth/me
func (h *Handler) Me(c *gin.Context) {
	claims, ok := GetClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "no session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"userId":      claims.UserID(),
		"storeId":     claims.StoreID,
		"affiliateId": claims.AffiliateID,
		"email":       claims.Email,
	})
}
