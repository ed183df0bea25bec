// Package app boots the loyalty service.
package app

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/restobites/loyalty-ledger/internal/config"
	"github.com/restobites/loyalty-ledger/internal/db"
	adminapi "github.com/restobites/loyalty-ledger/internal/http/api/admin"
	"github.com/restobites/loyalty-ledger/internal/http/api/front"
	"github.com/restobites/loyalty-ledger/internal/logging"
	"github.com/restobites/loyalty-ledger/internal/notify"
	"github.com/restobites/loyalty-ledger/internal/settings"
)

// Migrate opens the database, runs migrations and seeds the initial admin.
func Migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging)

	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	return db.SeedAdmin(conn, cfg.Admin.Username, cfg.Admin.Password)
}

// RunServer boots the HTTP API with database-backed components.
func RunServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging)

	conn, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errSeed := db.SeedAdmin(conn, cfg.Admin.Username, cfg.Admin.Password); errSeed != nil {
		return errSeed
	}
	if errRefresh := settings.Refresh(ctx, conn); errRefresh != nil {
		return errRefresh
	}

	notifier := notify.New(cfg.Redis)
	defer func() {
		if errClose := notifier.Close(); errClose != nil {
			log.WithError(errClose).Warn("close notifier")
		}
	}()

	if mode := cfg.Server.Mode; mode != "" {
		gin.SetMode(mode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := conn.DB()
		if errDB != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		if errPing := sqlDB.PingContext(c.Request.Context()); errPing != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	adminapi.RegisterAdminRoutes(engine, conn, cfg.JWT, notifier)
	front.RegisterFrontRoutes(engine, conn, cfg.JWT, notifier)

	log.Infof("loyalty service listening on %s", cfg.Server.Addr)
	return engine.Run(cfg.Server.Addr)
}
