package db

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/security"
)

// Migrate creates or updates all tables used by the service.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	err := conn.AutoMigrate(
		&models.User{},
		&models.Admin{},
		&models.Card{},
		&models.RewardStage{},
		&models.Stamp{},
		&models.StageRedemption{},
		&models.CardApplication{},
		&models.WalletEntry{},
		&models.Setting{},
	)
	if err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

// SeedAdmin creates the initial admin account when no admin exists yet.
// It is a no-op when the admins table is non-empty or when username or
// password are blank.
func SeedAdmin(conn *gorm.DB, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return nil
	}

	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("db: count admins: %w", errCount)
	}
	if count > 0 {
		return nil
	}

	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return fmt.Errorf("db: hash admin password: %w", errHash)
	}
	admin := models.Admin{
		Username: username,
		Password: hash,
		Active:   true,
	}
	if errCreate := conn.Create(&admin).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("db: seed admin: %w", errCreate)
	}
	log.Infof("seeded initial admin account %q", username)
	return nil
}
