package db

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/security"
)

func setupMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:migrate_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestMigrateCreatesTables(t *testing.T) {
	conn := setupMigratedDB(t)

	for _, model := range []any{
		&models.User{}, &models.Admin{}, &models.Card{}, &models.RewardStage{},
		&models.Stamp{}, &models.StageRedemption{}, &models.CardApplication{},
		&models.WalletEntry{}, &models.Setting{},
	} {
		if !conn.Migrator().HasTable(model) {
			t.Fatalf("missing table for %T", model)
		}
	}

	// Running migrations twice must be safe.
	if errAgain := Migrate(conn); errAgain != nil {
		t.Fatalf("repeat migrate: %v", errAgain)
	}
}

func TestSeedAdmin(t *testing.T) {
	conn := setupMigratedDB(t)

	if errSeed := SeedAdmin(conn, "boss", "secret-password"); errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}
	var admin models.Admin
	if errFind := conn.Where("username = ?", "boss").First(&admin).Error; errFind != nil {
		t.Fatalf("load admin: %v", errFind)
	}
	if !admin.Active {
		t.Fatalf("seeded admin is not active")
	}
	if !security.CheckPassword(admin.Password, "secret-password") {
		t.Fatalf("seeded admin password does not verify")
	}

	// Seeding again must not add a second account.
	if errAgain := SeedAdmin(conn, "other", "other-password"); errAgain != nil {
		t.Fatalf("repeat seed: %v", errAgain)
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected 1 admin, got %d", count)
	}
}

func TestSeedAdminSkipsBlankCredentials(t *testing.T) {
	conn := setupMigratedDB(t)

	if errSeed := SeedAdmin(conn, "", "password"); errSeed != nil {
		t.Fatalf("seed blank username: %v", errSeed)
	}
	if errSeed := SeedAdmin(conn, "boss", "  "); errSeed != nil {
		t.Fatalf("seed blank password: %v", errSeed)
	}
	var count int64
	if errCount := conn.Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("blank credentials seeded %d admin(s)", count)
	}
}
