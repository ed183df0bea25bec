// Package front registers the customer-facing API routes.
package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/config"
	"github.com/restobites/loyalty-ledger/internal/http/api/front/handlers"
	"github.com/restobites/loyalty-ledger/internal/loyalty"
	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/notify"
	"github.com/restobites/loyalty-ledger/internal/security"
)

// RegisterFrontRoutes registers public and authenticated customer routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, notifier *notify.Publisher) {
	if r == nil || db == nil {
		return
	}

	front := r.Group("/v0/front")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	front.POST("/register", authHandler.Register)
	front.POST("/login", authHandler.Login)

	authed := front.Group("")
	authed.Use(userAuthMiddleware(db, jwtCfg))

	profileHandler := handlers.NewProfileHandler(db)
	authed.GET("/profile", profileHandler.Get)
	authed.PUT("/profile/password", profileHandler.ChangePassword)

	registry := loyalty.NewRegistry(db, notifier)
	ledger := loyalty.NewLedger(db, notifier)
	engine := loyalty.NewEngine(db)
	cardHandler := handlers.NewCardFrontHandler(db, registry, ledger, engine)
	authed.GET("/cards", cardHandler.List)
	authed.POST("/cards/claim", cardHandler.Claim)
	authed.GET("/cards/:id", cardHandler.Get)
	authed.GET("/cards/:id/progress", cardHandler.Progress)
	authed.POST("/cards/:id/stamps/activate", cardHandler.ActivateStamp)
	authed.POST("/cards/:id/redeem", cardHandler.Redeem)

	checkoutHandler := handlers.NewCheckoutHandler(loyalty.NewApplicator(db, notifier))
	authed.POST("/checkout/apply", checkoutHandler.Apply)

	walletHandler := handlers.NewWalletHandler(db)
	authed.GET("/wallet", walletHandler.Balance)
	authed.GET("/wallet/history", walletHandler.History)
}

// userAuthMiddleware validates user JWTs and loads the user into context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
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

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if user.Disabled {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		c.Set("userID", user.ID)
		c.Next()
	}
}
