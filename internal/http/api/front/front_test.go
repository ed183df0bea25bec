package front

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/config"
	dbpkg "github.com/restobites/loyalty-ledger/internal/db"
	"github.com/restobites/loyalty-ledger/internal/loyalty"
	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/notify"
)

var testJWT = config.JWTConfig{Secret: "front-test-secret"}

func setupFrontRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:front_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := dbpkg.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	engine := gin.New()
	RegisterFrontRoutes(engine, conn, testJWT, notify.New(config.RedisConfig{}))
	return engine, conn
}

func doJSON(t *testing.T, engine *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, errEncode := json.Marshal(body)
		if errEncode != nil {
			t.Fatalf("encode body: %v", errEncode)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func registerAndLogin(t *testing.T, engine *gin.Engine, username string) string {
	t.Helper()
	rec := doJSON(t, engine, http.MethodPost, "/v0/front/register", "", gin.H{
		"username": username,
		"password": "hunter2-long",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodPost, "/v0/front/login", "", gin.H{
		"username": username,
		"password": "hunter2-long",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode login response: %v", errDecode)
	}
	if resp.Token == "" {
		t.Fatalf("login returned no token")
	}
	return resp.Token
}

func createCard(t *testing.T, conn *gorm.DB, params loyalty.CreateParams) models.Card {
	t.Helper()
	registry := loyalty.NewRegistry(conn, notify.New(config.RedisConfig{}))
	cards, errCreate := registry.CreateCards(context.Background(), params, 1)
	if errCreate != nil {
		t.Fatalf("create card: %v", errCreate)
	}
	return cards[0]
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	engine, _ := setupFrontRouter(t)
	registerAndLogin(t, engine, "alice")

	rec := doJSON(t, engine, http.MethodPost, "/v0/front/register", "", gin.H{
		"username": "alice",
		"password": "another-pass",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	engine, _ := setupFrontRouter(t)
	registerAndLogin(t, engine, "alice")

	rec := doJSON(t, engine, http.MethodPost, "/v0/front/login", "", gin.H{
		"username": "alice",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAuthedRoutesRequireToken(t *testing.T) {
	engine, _ := setupFrontRouter(t)

	rec := doJSON(t, engine, http.MethodGet, "/v0/front/cards", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = doJSON(t, engine, http.MethodGet, "/v0/front/cards", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestClaimAndListCards(t *testing.T) {
	engine, conn := setupFrontRouter(t)
	token := registerAndLogin(t, engine, "alice")

	card := createCard(t, conn, loyalty.CreateParams{
		Type:  models.CardTypeReward,
		Title: "Coffee club",
		Stages: []loyalty.StageParams{
			{Required: 3, Reward: "Free coffee", RewardType: models.RewardKindGift},
		},
	})

	rec := doJSON(t, engine, http.MethodPost, "/v0/front/cards/claim", token, gin.H{"code": card.Code})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodGet, "/v0/front/cards", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Cards []struct {
			Code  string `json:"code"`
			Title string `json:"title"`
		} `json:"cards"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode list: %v", errDecode)
	}
	if len(resp.Cards) != 1 || resp.Cards[0].Code != card.Code {
		t.Fatalf("unexpected card list: %+v", resp.Cards)
	}

	// A second customer cannot claim the same card.
	otherToken := registerAndLogin(t, engine, "bob")
	rec = doJSON(t, engine, http.MethodPost, "/v0/front/cards/claim", otherToken, gin.H{"code": card.Code})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for foreign claim, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestStampProgressAndRedeemFlow(t *testing.T) {
	engine, conn := setupFrontRouter(t)
	token := registerAndLogin(t, engine, "alice")

	card := createCard(t, conn, loyalty.CreateParams{
		Type:  models.CardTypeReward,
		Title: "Coffee club",
		Stages: []loyalty.StageParams{
			{Required: 2, Reward: "Free coffee", RewardType: models.RewardKindGift},
		},
	})
	rec := doJSON(t, engine, http.MethodPost, "/v0/front/cards/claim", token, gin.H{"code": card.Code})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: %d", rec.Code)
	}

	var stamps []models.Stamp
	if errFind := conn.Where("card_id = ?", card.ID).Order("position ASC").Find(&stamps).Error; errFind != nil {
		t.Fatalf("load stamps: %v", errFind)
	}
	base := fmt.Sprintf("/v0/front/cards/%d", card.ID)
	for _, stamp := range stamps {
		rec = doJSON(t, engine, http.MethodPost, base+"/stamps/activate", token, gin.H{"code": stamp.Code})
		if rec.Code != http.StatusOK {
			t.Fatalf("activate stamp: status %d body %s", rec.Code, rec.Body.String())
		}
	}

	// Re-activating a spent code conflicts.
	rec = doJSON(t, engine, http.MethodPost, base+"/stamps/activate", token, gin.H{"code": stamps[0].Code})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for re-activation, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodGet, base+"/progress", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: status %d body %s", rec.Code, rec.Body.String())
	}
	var progress struct {
		ActiveStamps  int  `json:"active_stamps"`
		EligibleStage *int `json:"eligible_stage"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &progress); errDecode != nil {
		t.Fatalf("decode progress: %v", errDecode)
	}
	if progress.ActiveStamps != 2 || progress.EligibleStage == nil || *progress.EligibleStage != 0 {
		t.Fatalf("unexpected progress: %+v", progress)
	}

	rec = doJSON(t, engine, http.MethodPost, base+"/redeem", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("redeem: status %d body %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, engine, http.MethodPost, base+"/redeem", token, gin.H{"stage": 0})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for double redeem, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestCoinsClaimShowsUpInWallet(t *testing.T) {
	engine, conn := setupFrontRouter(t)
	token := registerAndLogin(t, engine, "alice")

	card := createCard(t, conn, loyalty.CreateParams{
		Type:       models.CardTypeCoins,
		Title:      "Welcome coins",
		CoinsValue: 75,
	})
	rec := doJSON(t, engine, http.MethodPost, "/v0/front/cards/claim", token, gin.H{"code": card.Code})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodGet, "/v0/front/wallet", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("wallet: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Balance int64 `json:"balance"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode wallet: %v", errDecode)
	}
	if resp.Balance != 75 {
		t.Fatalf("expected balance 75, got %d", resp.Balance)
	}
}

func TestCheckoutApplyGiftCard(t *testing.T) {
	engine, conn := setupFrontRouter(t)
	token := registerAndLogin(t, engine, "alice")

	card := createCard(t, conn, loyalty.CreateParams{
		Type:          models.CardTypeGift,
		Title:         "10 percent off",
		GiftType:      models.RewardKindDiscount,
		DiscountValue: 10,
	})

	rec := doJSON(t, engine, http.MethodPost, "/v0/front/checkout/apply", token, gin.H{
		"card_code": card.Code,
		"action":    "use_gift",
		"order": gin.H{
			"order_ref": "order-7",
			"subtotal":  50.0,
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("apply: status %d body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Effect struct {
			DiscountAmount float64 `json:"discount_amount"`
			NewSubtotal    float64 `json:"new_subtotal"`
		} `json:"effect"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode effect: %v", errDecode)
	}
	if resp.Effect.DiscountAmount != 5 || resp.Effect.NewSubtotal != 45 {
		t.Fatalf("unexpected effect: %+v", resp.Effect)
	}

	// Single use: the second checkout is rejected.
	rec = doJSON(t, engine, http.MethodPost, "/v0/front/checkout/apply", token, gin.H{
		"card_code": card.Code,
		"action":    "use_gift",
		"order":     gin.H{"order_ref": "order-8", "subtotal": 20.0},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reuse, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestProfileAndPasswordChange(t *testing.T) {
	engine, _ := setupFrontRouter(t)
	token := registerAndLogin(t, engine, "alice")

	rec := doJSON(t, engine, http.MethodGet, "/v0/front/profile", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: status %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPut, "/v0/front/profile/password", token, gin.H{
		"old_password": "wrong",
		"new_password": "new-password-1",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong old password, got %d", rec.Code)
	}

	rec = doJSON(t, engine, http.MethodPut, "/v0/front/profile/password", token, gin.H{
		"old_password": "hunter2-long",
		"new_password": "new-password-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change password: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, engine, http.MethodPost, "/v0/front/login", "", gin.H{
		"username": "alice",
		"password": "new-password-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login with new password: status %d", rec.Code)
	}
}
