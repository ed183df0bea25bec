// Package admin registers the back-office API routes.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/config"
	"github.com/restobites/loyalty-ledger/internal/http/api/admin/handlers"
	"github.com/restobites/loyalty-ledger/internal/loyalty"
	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/notify"
	"github.com/restobites/loyalty-ledger/internal/security"
)

// RegisterAdminRoutes registers the admin login flow and the authenticated
// management routes.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, notifier *notify.Publisher) {
	if r == nil || db == nil {
		return
	}

	admin := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	admin.POST("/login", authHandler.Login)
	admin.POST("/login/totp", authHandler.LoginTOTP)

	authed := admin.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	authed.GET("/health", handlers.Health)

	mfaHandler := handlers.NewMFAHandler(db)
	authed.GET("/mfa", mfaHandler.Status)
	authed.POST("/mfa/totp/prepare", mfaHandler.PrepareTOTP)
	authed.POST("/mfa/totp/confirm", mfaHandler.ConfirmTOTP)
	authed.DELETE("/mfa/totp", mfaHandler.DisableTOTP)

	registry := loyalty.NewRegistry(db, notifier)
	ledger := loyalty.NewLedger(db, notifier)
	cardHandler := handlers.NewCardAdminHandler(db, registry, ledger)
	authed.POST("/cards", cardHandler.Create)
	authed.GET("/cards", cardHandler.List)
	authed.GET("/cards/:id", cardHandler.Get)
	authed.PUT("/cards/:id", cardHandler.Update)
	authed.GET("/cards/:id/stamps", cardHandler.Stamps)
	authed.POST("/cards/:id/stamps/issue", cardHandler.IssueStamp)
	authed.POST("/cards/:id/deactivate", cardHandler.Deactivate)
	authed.DELETE("/cards/:id", cardHandler.Delete)

	userHandler := handlers.NewUserAdminHandler(db)
	authed.GET("/users", userHandler.List)
	authed.PUT("/users/:id/disabled", userHandler.SetDisabled)

	settingsHandler := handlers.NewSettingsHandler(db)
	authed.GET("/settings/code-policy", settingsHandler.CodePolicy)
	authed.PUT("/settings/code-policy", settingsHandler.UpdateCodePolicy)
}

// adminAuthMiddleware validates admin JWTs and loads the admin into context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin account is disabled"})
			return
		}

		c.Set("adminID", admin.ID)
		c.Next()
	}
}
