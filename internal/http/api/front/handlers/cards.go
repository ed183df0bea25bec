package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/loyalty"
	"github.com/restobites/loyalty-ledger/internal/models"
)

// CardFrontHandler serves the customer-facing card endpoints.
type CardFrontHandler struct {
	db       *gorm.DB
	registry *loyalty.Registry
	ledger   *loyalty.Ledger
	engine   *loyalty.Engine
}

// NewCardFrontHandler constructs a CardFrontHandler.
func NewCardFrontHandler(db *gorm.DB, registry *loyalty.Registry, ledger *loyalty.Ledger, engine *loyalty.Engine) *CardFrontHandler {
	return &CardFrontHandler{db: db, registry: registry, ledger: ledger, engine: engine}
}

// List returns the cards owned by the current user, newest first.
func (h *CardFrontHandler) List(c *gin.Context) {
	userID := getUserID(c)
	var cards []models.Card
	err := h.db.WithContext(c.Request.Context()).
		Preload("Stages", func(q *gorm.DB) *gorm.DB { return q.Order("position ASC") }).
		Where("owner_id = ?", userID).
		Order("created_at DESC").
		Find(&cards).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cards failed"})
		return
	}
	out := make([]gin.H, 0, len(cards))
	for i := range cards {
		out = append(out, cardSummary(&cards[i]))
	}
	c.JSON(http.StatusOK, gin.H{"cards": out})
}

// claimRequest defines the request body for claiming a card by code.
type claimRequest struct {
	Code string `json:"code"`
}

// Claim assigns the card with the given code to the current user.
func (h *CardFrontHandler) Claim(c *gin.Context) {
	var body claimRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	card, errClaim := h.registry.ClaimCard(c.Request.Context(), code, getUserID(c))
	if errClaim != nil {
		respondLoyaltyError(c, errClaim)
		return
	}
	c.JSON(http.StatusOK, gin.H{"card": cardSummary(card)})
}

// Get returns one owned card with its stages.
func (h *CardFrontHandler) Get(c *gin.Context) {
	card, ok := h.ownedCard(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"card": cardDetail(card)})
}

// Progress returns the active stamp count and per-stage status of a reward
// card.
func (h *CardFrontHandler) Progress(c *gin.Context) {
	card, ok := h.ownedCard(c)
	if !ok {
		return
	}
	if card.Type != models.CardTypeReward {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card has no stamp progress"})
		return
	}

	active, errCount := h.ledger.ActiveCount(c.Request.Context(), card.ID)
	if errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count stamps failed"})
		return
	}

	var redemptions []models.StageRedemption
	if errList := h.db.WithContext(c.Request.Context()).Where("card_id = ?", card.ID).Find(&redemptions).Error; errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load redemptions failed"})
		return
	}
	redeemed := make(map[int]bool, len(redemptions))
	for _, r := range redemptions {
		redeemed[r.StagePosition] = true
	}

	stages := make([]gin.H, 0, len(card.Stages))
	for _, stage := range card.Stages {
		stages = append(stages, gin.H{
			"position":       stage.Position,
			"required":       stage.Required,
			"reward":         stage.Reward,
			"reward_type":    stage.RewardType,
			"discount_value": stage.DiscountValue,
			"satisfied":      active >= stage.Required,
			"redeemed":       redeemed[stage.Position],
		})
	}

	eligible, errEligible := h.engine.EligibleStage(c.Request.Context(), card.ID)
	if errEligible != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve eligible stage failed"})
		return
	}
	resp := gin.H{
		"card_id":       card.ID,
		"active_stamps": active,
		"total_stamps":  len(card.Stamps),
		"stages":        stages,
	}
	if eligible != nil {
		resp["eligible_stage"] = eligible.Position
	}
	c.JSON(http.StatusOK, resp)
}

// activateStampRequest defines the request body for stamp activation.
type activateStampRequest struct {
	Code string `json:"code"`
}

// ActivateStamp marks one stamp active by its code.
func (h *CardFrontHandler) ActivateStamp(c *gin.Context) {
	cardID, ok := parseCardID(c)
	if !ok {
		return
	}
	var body activateStampRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	code := strings.TrimSpace(body.Code)
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	stamp, errActivate := h.ledger.ActivateStamp(c.Request.Context(), cardID, code, getUserID(c))
	if errActivate != nil {
		respondLoyaltyError(c, errActivate)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stamp": gin.H{
			"position":     stamp.Position,
			"is_active":    stamp.IsActive,
			"activated_at": stamp.ActivatedAt,
		},
	})
}

// redeemRequest defines the request body for stage redemption.
type redeemRequest struct {
	Stage *int `json:"stage"` // Optional; defaults to the eligible stage.
}

// Redeem redeems a reward stage. When no stage is given the currently
// eligible stage is used.
func (h *CardFrontHandler) Redeem(c *gin.Context) {
	cardID, ok := parseCardID(c)
	if !ok {
		return
	}
	var body redeemRequest
	if c.Request.ContentLength > 0 {
		if errBind := c.ShouldBindJSON(&body); errBind != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	stageIndex := -1
	if body.Stage != nil {
		stageIndex = *body.Stage
	} else {
		eligible, errEligible := h.engine.EligibleStage(c.Request.Context(), cardID)
		if errEligible != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve eligible stage failed"})
			return
		}
		if eligible == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no stage is eligible", "kind": string(loyalty.KindNotEligible)})
			return
		}
		stageIndex = eligible.Position
	}

	result, errRedeem := h.engine.Redeem(c.Request.Context(), cardID, stageIndex, getUserID(c))
	if errRedeem != nil {
		respondLoyaltyError(c, errRedeem)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"redemption": gin.H{
			"stage":          result.StagePosition,
			"reward":         result.Reward,
			"reward_type":    result.RewardType,
			"discount_value": result.DiscountValue,
		},
	})
}

// ownedCard loads the card from the :id parameter and verifies ownership.
// It writes the error response itself on failure.
func (h *CardFrontHandler) ownedCard(c *gin.Context) (*models.Card, bool) {
	cardID, ok := parseCardID(c)
	if !ok {
		return nil, false
	}
	card, errGet := h.registry.GetCard(c.Request.Context(), cardID)
	if errGet != nil {
		respondLoyaltyError(c, errGet)
		return nil, false
	}
	userID := getUserID(c)
	if card.OwnerID == nil || *card.OwnerID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "card belongs to another user", "kind": string(loyalty.KindCardNotOwned)})
		return nil, false
	}
	return card, true
}

// parseCardID reads the :id path parameter.
func parseCardID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid card id"})
		return 0, false
	}
	return id, true
}

// cardSummary formats a card for list responses.
func cardSummary(card *models.Card) gin.H {
	return gin.H{
		"id":         card.ID,
		"type":       card.Type,
		"code":       card.Code,
		"title":      card.Title,
		"status":     card.Status,
		"expires_at": card.ExpiresAt,
		"created_at": card.CreatedAt,
	}
}

// cardDetail formats a card with its type-specific fields and stages.
func cardDetail(card *models.Card) gin.H {
	out := cardSummary(card)
	out["description"] = card.Description
	out["background_color"] = card.BackgroundColor
	out["text_color"] = card.TextColor
	out["used_at"] = card.UsedAt

	switch card.Type {
	case models.CardTypeReward:
		stages := make([]gin.H, 0, len(card.Stages))
		for _, stage := range card.Stages {
			stages = append(stages, gin.H{
				"position":       stage.Position,
				"required":       stage.Required,
				"reward":         stage.Reward,
				"reward_type":    stage.RewardType,
				"discount_value": stage.DiscountValue,
			})
		}
		out["stages"] = stages
	case models.CardTypeGift:
		out["gift_type"] = card.GiftType
		out["discount_value"] = card.DiscountValue
		out["image_url"] = card.ImageURL
	case models.CardTypeCoins:
		out["coins_value"] = card.CoinsValue
	}
	return out
}
