package settings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
)

func setupSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { snapshot.Store(defaultPolicy()) })
	return db
}

func TestPolicyDefaults(t *testing.T) {
	setupSettingsDB(t)

	policy := Policy()
	if policy.RewardLength != 7 || policy.GiftLength != 5 || policy.CoinsLength != 6 {
		t.Fatalf("unexpected defaults: %+v", policy)
	}
	if policy.Length(models.CardTypeGift) != 5 {
		t.Fatalf("expected gift length 5, got %d", policy.Length(models.CardTypeGift))
	}
}

func TestUpdateCodeLength(t *testing.T) {
	db := setupSettingsDB(t)
	ctx := context.Background()

	if errUpdate := UpdateCodeLength(ctx, db, models.CardTypeGift, 8); errUpdate != nil {
		t.Fatalf("update: %v", errUpdate)
	}
	if got := Policy().GiftLength; got != 8 {
		t.Fatalf("expected refreshed gift length 8, got %d", got)
	}

	// Upsert: a second update replaces the stored row.
	if errUpdate := UpdateCodeLength(ctx, db, models.CardTypeGift, 9); errUpdate != nil {
		t.Fatalf("second update: %v", errUpdate)
	}
	var count int64
	if errCount := db.Model(&models.Setting{}).Where("key = ?", KeyGiftCodeLength).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("expected a single settings row, got %d", count)
	}
	if got := Policy().GiftLength; got != 9 {
		t.Fatalf("expected gift length 9, got %d", got)
	}
}

func TestUpdateCodeLengthRejectsOutOfBounds(t *testing.T) {
	db := setupSettingsDB(t)
	ctx := context.Background()

	if errLow := UpdateCodeLength(ctx, db, models.CardTypeReward, 3); errLow == nil {
		t.Fatalf("expected error for length below minimum")
	}
	if errHigh := UpdateCodeLength(ctx, db, models.CardTypeReward, 13); errHigh == nil {
		t.Fatalf("expected error for length above maximum")
	}
	if got := Policy().RewardLength; got != 7 {
		t.Fatalf("rejected update changed the policy to %d", got)
	}
}

func TestRefreshIgnoresMalformedRows(t *testing.T) {
	db := setupSettingsDB(t)
	ctx := context.Background()

	rows := []models.Setting{
		{Key: KeyRewardCodeLength, Value: []byte(`"not a number"`)},
		{Key: KeyCoinsCodeLength, Value: []byte(`10`)},
	}
	if errSeed := db.Create(&rows).Error; errSeed != nil {
		t.Fatalf("seed: %v", errSeed)
	}

	if errRefresh := Refresh(ctx, db); errRefresh != nil {
		t.Fatalf("refresh: %v", errRefresh)
	}
	policy := Policy()
	if policy.RewardLength != 7 {
		t.Fatalf("malformed row overrode the default: %d", policy.RewardLength)
	}
	if policy.CoinsLength != 10 {
		t.Fatalf("expected coins length 10, got %d", policy.CoinsLength)
	}
}
