package loyalty

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/config"
	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/notify"
	"github.com/restobites/loyalty-ledger/internal/wallet"
)

func setupLoyaltyDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:loyalty_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	errMigrate := db.AutoMigrate(
		&models.User{},
		&models.Card{},
		&models.RewardStage{},
		&models.Stamp{},
		&models.StageRedemption{},
		&models.CardApplication{},
		&models.WalletEntry{},
	)
	if errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return db
}

func testNotifier() *notify.Publisher {
	return notify.New(config.RedisConfig{})
}

func rewardParams(stages ...StageParams) CreateParams {
	if len(stages) == 0 {
		stages = []StageParams{{Required: 3, Reward: "Free coffee", RewardType: models.RewardKindGift}}
	}
	return CreateParams{
		Type:   models.CardTypeReward,
		Title:  "Coffee club",
		Stages: stages,
	}
}

func TestCreateCardsCodeLengths(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())
	ctx := context.Background()

	cases := []struct {
		params CreateParams
		length int
	}{
		{rewardParams(), 7},
		{CreateParams{Type: models.CardTypeGift, Title: "Birthday treat", GiftType: models.RewardKindGift}, 5},
		{CreateParams{Type: models.CardTypeCoins, Title: "Welcome coins", CoinsValue: 100}, 6},
	}
	seen := map[string]bool{}
	for _, tc := range cases {
		cards, errCreate := registry.CreateCards(ctx, tc.params, 5)
		if errCreate != nil {
			t.Fatalf("create %s cards: %v", tc.params.Type, errCreate)
		}
		if len(cards) != 5 {
			t.Fatalf("expected 5 cards, got %d", len(cards))
		}
		for _, card := range cards {
			if len(card.Code) != tc.length {
				t.Fatalf("%s card code %q: expected length %d", tc.params.Type, card.Code, tc.length)
			}
			for _, r := range card.Code {
				if r < '0' || r > '9' {
					t.Fatalf("card code %q is not numeric", card.Code)
				}
			}
			if seen[card.Code] {
				t.Fatalf("duplicate card code %q", card.Code)
			}
			seen[card.Code] = true
		}
	}
}

func TestCreateRewardCardGeneratesStamps(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())

	stages := []StageParams{
		{Required: 3, Reward: "Espresso", RewardType: models.RewardKindGift},
		{Required: 7, Reward: "10% off", RewardType: models.RewardKindDiscount, DiscountValue: 10},
	}
	cards, errCreate := registry.CreateCards(context.Background(), rewardParams(stages...), 1)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if len(cards[0].Stamps) != 7 {
		t.Fatalf("expected 7 stamps (highest threshold), got %d", len(cards[0].Stamps))
	}
	codes := map[string]bool{}
	for _, stamp := range cards[0].Stamps {
		if stamp.IsActive {
			t.Fatalf("stamp %d created active", stamp.Position)
		}
		if codes[stamp.Code] {
			t.Fatalf("duplicate stamp code %q within card", stamp.Code)
		}
		codes[stamp.Code] = true
	}
}

func TestCreateCardsRejectsBadBatches(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())
	ctx := context.Background()

	cases := []struct {
		name   string
		params CreateParams
		count  int
	}{
		{"zero count", rewardParams(), 0},
		{"missing title", CreateParams{Type: models.CardTypeReward, Stages: rewardParams().Stages}, 1},
		{"non-increasing stages", rewardParams(
			StageParams{Required: 5, Reward: "A", RewardType: models.RewardKindGift},
			StageParams{Required: 5, Reward: "B", RewardType: models.RewardKindGift},
		), 1},
		{"discount out of range", CreateParams{
			Type: models.CardTypeGift, Title: "Bad", GiftType: models.RewardKindDiscount, DiscountValue: 150,
		}, 1},
		{"coins without value", CreateParams{Type: models.CardTypeCoins, Title: "Empty"}, 1},
	}
	for _, tc := range cases {
		if _, errCreate := registry.CreateCards(ctx, tc.params, tc.count); !IsKind(errCreate, KindInvalidParameters) {
			t.Fatalf("%s: expected invalid_parameters, got %v", tc.name, errCreate)
		}
	}

	// A rejected batch must leave nothing behind.
	var count int64
	if errCount := db.Model(&models.Card{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if count != 0 {
		t.Fatalf("expected no cards after rejected batches, found %d", count)
	}
}

func TestCreateCardsRejectsPastExpiry(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())

	past := time.Now().UTC().Add(-time.Hour)
	params := rewardParams()
	params.ExpiresAt = &past
	if _, errCreate := registry.CreateCards(context.Background(), params, 1); !IsKind(errCreate, KindInvalidParameters) {
		t.Fatalf("expected invalid_parameters, got %v", errCreate)
	}
}

func TestClaimCard(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())
	ctx := context.Background()

	cards, errCreate := registry.CreateCards(ctx, rewardParams(), 1)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	code := cards[0].Code

	claimed, errClaim := registry.ClaimCard(ctx, code, 1)
	if errClaim != nil {
		t.Fatalf("claim: %v", errClaim)
	}
	if claimed.OwnerID == nil || *claimed.OwnerID != 1 {
		t.Fatalf("expected owner 1, got %v", claimed.OwnerID)
	}

	// Idempotent for the owner.
	if _, errAgain := registry.ClaimCard(ctx, code, 1); errAgain != nil {
		t.Fatalf("re-claim by owner: %v", errAgain)
	}

	// Hard failure for anyone else.
	if _, errOther := registry.ClaimCard(ctx, code, 2); !IsKind(errOther, KindCardAlreadyOwned) {
		t.Fatalf("expected card_already_owned, got %v", errOther)
	}

	if _, errMissing := registry.ClaimCard(ctx, "0000000", 1); !IsKind(errMissing, KindNotFound) {
		t.Fatalf("expected not_found, got %v", errMissing)
	}
}

func TestClaimExpiredCard(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())
	ctx := context.Background()

	cards, errCreate := registry.CreateCards(ctx, rewardParams(), 1)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	past := time.Now().UTC().Add(-time.Hour)
	if errUpdate := db.Model(&models.Card{}).Where("id = ?", cards[0].ID).Update("expires_at", past).Error; errUpdate != nil {
		t.Fatalf("age card: %v", errUpdate)
	}

	if _, errClaim := registry.ClaimCard(ctx, cards[0].Code, 1); !IsKind(errClaim, KindCardExpired) {
		t.Fatalf("expected card_expired, got %v", errClaim)
	}
}

func TestClaimCoinsCardCreditsWalletOnce(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())
	ctx := context.Background()

	cards, errCreate := registry.CreateCards(ctx, CreateParams{
		Type:       models.CardTypeCoins,
		Title:      "Welcome coins",
		CoinsValue: 250,
	}, 1)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	claimed, errClaim := registry.ClaimCard(ctx, cards[0].Code, 1)
	if errClaim != nil {
		t.Fatalf("claim: %v", errClaim)
	}
	if claimed.Status != models.CardStatusUsed {
		t.Fatalf("expected coins card exhausted on claim, status %s", claimed.Status)
	}

	balance, errBalance := wallet.Balance(ctx, db, 1)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 250 {
		t.Fatalf("expected balance 250, got %d", balance)
	}

	// A repeat claim by the owner must not credit again.
	if _, errAgain := registry.ClaimCard(ctx, cards[0].Code, 1); errAgain != nil {
		t.Fatalf("re-claim: %v", errAgain)
	}
	balance, _ = wallet.Balance(ctx, db, 1)
	if balance != 250 {
		t.Fatalf("repeat claim changed balance to %d", balance)
	}
}

func TestDeactivate(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())
	ctx := context.Background()

	cards, errCreate := registry.CreateCards(ctx, rewardParams(), 1)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	if errDeactivate := registry.Deactivate(ctx, cards[0].ID); errDeactivate != nil {
		t.Fatalf("deactivate: %v", errDeactivate)
	}
	var card models.Card
	if errFind := db.First(&card, cards[0].ID).Error; errFind != nil {
		t.Fatalf("reload: %v", errFind)
	}
	if card.Status != models.CardStatusExpired {
		t.Fatalf("expected expired, got %s", card.Status)
	}

	// Terminal card: no-op success.
	if errAgain := registry.Deactivate(ctx, cards[0].ID); errAgain != nil {
		t.Fatalf("repeat deactivate: %v", errAgain)
	}
	if errMissing := registry.Deactivate(ctx, 9999); !IsKind(errMissing, KindNotFound) {
		t.Fatalf("expected not_found, got %v", errMissing)
	}
}

func TestDeleteRemovesDependents(t *testing.T) {
	db := setupLoyaltyDB(t)
	registry := NewRegistry(db, testNotifier())
	ctx := context.Background()

	cards, errCreate := registry.CreateCards(ctx, rewardParams(), 1)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	if errDelete := registry.Delete(ctx, cards[0].ID); errDelete != nil {
		t.Fatalf("delete: %v", errDelete)
	}

	var stampCount int64
	if errCount := db.Model(&models.Stamp{}).Where("card_id = ?", cards[0].ID).Count(&stampCount).Error; errCount != nil {
		t.Fatalf("count stamps: %v", errCount)
	}
	if stampCount != 0 {
		t.Fatalf("expected stamps removed with card, found %d", stampCount)
	}
	if _, errGet := registry.GetCard(ctx, cards[0].ID); !IsKind(errGet, KindNotFound) {
		t.Fatalf("expected not_found after delete, got %v", errGet)
	}
}
