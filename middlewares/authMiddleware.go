package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/payroll_audit/appctx"
	"github.com/mmdatafocus/payroll_audit/utils"
)

const bearerPrefix = "Bearer "

// AuthMiddleware puts the actor id and role of a valid bearer token into the request context.
// Requests without a token pass through; RequireActor rejects them on protected routes.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(auth, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		token, err := utils.JwtValidate(secret, strings.TrimPrefix(auth, bearerPrefix))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		claim, ok := token.Claims.(*utils.JwtCustomClaim)
		if !ok || claim.ID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), claim.ID)
		ctx = appctx.Set(ctx, appctx.ContextKeyUserRole, claim.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, ok := utils.GetUserIdFromContext(c.Request.Context()); !ok || id <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// ActorId returns the authenticated actor; RequireActor guarantees it is set.
func ActorId(c *gin.Context) int {
	id, _ := utils.GetUserIdFromContext(c.Request.Context())
	return id
}
