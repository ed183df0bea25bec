package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dbutil "github.com/restobites/loyalty-ledger/internal/db"
	"github.com/restobites/loyalty-ledger/internal/loyalty"
	"github.com/restobites/loyalty-ledger/internal/models"
)

// CardAdminHandler handles back-office card management.
type CardAdminHandler struct {
	db       *gorm.DB
	registry *loyalty.Registry
	ledger   *loyalty.Ledger
}

// NewCardAdminHandler constructs a CardAdminHandler.
func NewCardAdminHandler(db *gorm.DB, registry *loyalty.Registry, ledger *loyalty.Ledger) *CardAdminHandler {
	return &CardAdminHandler{db: db, registry: registry, ledger: ledger}
}

// createStageRequest describes one reward stage in a creation request.
type createStageRequest struct {
	Required      int    `json:"required"`       // Active stamps needed for the stage.
	Reward        string `json:"reward"`         // Reward description.
	RewardType    string `json:"reward_type"`    // gift or discount.
	DiscountValue int    `json:"discount_value"` // Percentage for discount rewards.
}

// createCardsRequest captures the payload for batch card creation.
type createCardsRequest struct {
	Type        string     `json:"type"`        // reward, gift or coins.
	Count       int        `json:"count"`       // Number of cards to create.
	Title       string     `json:"title"`       // Display title for the cards.
	Description string     `json:"description"` // Optional display text.
	ExpiresAt   *time.Time `json:"expires_at"`  // Optional expiry date.

	BackgroundColor string `json:"background_color"` // Optional presentation color.
	TextColor       string `json:"text_color"`       // Optional presentation color.

	Stages []createStageRequest `json:"stages"` // Reward card stages.

	GiftType      string `json:"gift_type"`      // Gift cards: discount or gift.
	DiscountValue int    `json:"discount_value"` // Gift cards: percentage.
	ImageURL      string `json:"image_url"`      // Gift cards: optional image.

	CoinsValue int64 `json:"coins_value"` // Coins cards: wallet credit.
}

// Create generates a batch of cards in a single transaction.
func (h *CardAdminHandler) Create(c *gin.Context) {
	var body createCardsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	params := loyalty.CreateParams{
		Type:            models.CardType(strings.TrimSpace(body.Type)),
		Title:           strings.TrimSpace(body.Title),
		Description:     strings.TrimSpace(body.Description),
		ExpiresAt:       body.ExpiresAt,
		BackgroundColor: strings.TrimSpace(body.BackgroundColor),
		TextColor:       strings.TrimSpace(body.TextColor),
		GiftType:        models.RewardKind(strings.TrimSpace(body.GiftType)),
		DiscountValue:   body.DiscountValue,
		ImageURL:        strings.TrimSpace(body.ImageURL),
		CoinsValue:      body.CoinsValue,
	}
	for _, stage := range body.Stages {
		params.Stages = append(params.Stages, loyalty.StageParams{
			Required:      stage.Required,
			Reward:        strings.TrimSpace(stage.Reward),
			RewardType:    models.RewardKind(strings.TrimSpace(stage.RewardType)),
			DiscountValue: stage.DiscountValue,
		})
	}

	cards, errCreate := h.registry.CreateCards(c.Request.Context(), params, body.Count)
	if errCreate != nil {
		respondLoyaltyError(c, errCreate)
		return
	}

	out := make([]gin.H, 0, len(cards))
	for i := range cards {
		out = append(out, h.formatCard(&cards[i]))
	}
	c.JSON(http.StatusCreated, gin.H{"cards": out})
}

// List returns cards matching the query filters, newest first.
func (h *CardAdminHandler) List(c *gin.Context) {
	var (
		titleQ  = strings.TrimSpace(c.Query("title"))
		codeQ   = strings.TrimSpace(c.Query("code"))
		typeQ   = strings.TrimSpace(c.Query("type"))
		statusQ = strings.TrimSpace(c.Query("status"))
		ownerQ  = strings.TrimSpace(c.Query("owner"))
	)

	q := h.db.WithContext(c.Request.Context()).
		Model(&models.Card{}).
		Preload("Owner")
	if titleQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+titleQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "title"), pattern)
	}
	if codeQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+codeQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "code"), pattern)
	}
	if typeQ != "" {
		q = q.Where("type = ?", typeQ)
	}
	if statusQ != "" {
		q = q.Where("status = ?", statusQ)
	}
	if ownerQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+ownerQ+"%")
		q = q.Joins("LEFT JOIN users ON users.id = cards.owner_id").
			Where(dbutil.CaseInsensitiveLikeExpr(h.db, "users.username"), pattern)
	}

	var rows []models.Card
	if errFind := q.Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list cards failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, h.formatCard(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"cards": out})
}

// Get fetches a single card by ID with stages and stamps.
func (h *CardAdminHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	card, errGet := h.registry.GetCard(c.Request.Context(), id)
	if errGet != nil {
		respondLoyaltyError(c, errGet)
		return
	}

	out := h.formatCard(card)
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
	c.JSON(http.StatusOK, out)
}

// updateCardRequest captures optional display fields for card updates. Codes,
// types and stages are immutable after creation.
type updateCardRequest struct {
	Title           *string `json:"title"`            // Optional updated title.
	Description     *string `json:"description"`      // Optional updated description.
	BackgroundColor *string `json:"background_color"` // Optional presentation color.
	TextColor       *string `json:"text_color"`       // Optional presentation color.
	ImageURL        *string `json:"image_url"`        // Optional gift card image.
}

// Update applies validated display changes to a card.
func (h *CardAdminHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var body updateCardRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var card models.Card
	if errFind := h.db.WithContext(c.Request.Context()).First(&card, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	updates := map[string]any{}
	if body.Title != nil {
		title := strings.TrimSpace(*body.Title)
		if title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title cannot be empty"})
			return
		}
		updates["title"] = title
	}
	if body.Description != nil {
		updates["description"] = strings.TrimSpace(*body.Description)
	}
	if body.BackgroundColor != nil {
		updates["background_color"] = strings.TrimSpace(*body.BackgroundColor)
	}
	if body.TextColor != nil {
		updates["text_color"] = strings.TrimSpace(*body.TextColor)
	}
	if body.ImageURL != nil {
		updates["image_url"] = strings.TrimSpace(*body.ImageURL)
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}
	updates["updated_at"] = time.Now().UTC()

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&card).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update card failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatCard(&card))
}

// Stamps lists a reward card's stamps with their activation state.
func (h *CardAdminHandler) Stamps(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	var stamps []models.Stamp
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("card_id = ?", id).
		Order("position ASC").
		Find(&stamps).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list stamps failed"})
		return
	}

	out := make([]gin.H, 0, len(stamps))
	for _, stamp := range stamps {
		out = append(out, gin.H{
			"position":        stamp.Position,
			"code":            stamp.Code,
			"is_active":       stamp.IsActive,
			"activated_by_id": stamp.ActivatedByID,
			"activated_at":    stamp.ActivatedAt,
			"issued_at":       stamp.IssuedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"stamps": out})
}

// IssueStamp hands out the next unissued stamp code for a reward card.
func (h *CardAdminHandler) IssueStamp(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	stamp, errIssue := h.ledger.IssueNext(c.Request.Context(), id)
	if errIssue != nil {
		respondLoyaltyError(c, errIssue)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stamp": gin.H{
			"position":  stamp.Position,
			"code":      stamp.Code,
			"issued_at": stamp.IssuedAt,
		},
	})
}

// Deactivate marks a card expired regardless of its expiry date.
func (h *CardAdminHandler) Deactivate(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if errDeactivate := h.registry.Deactivate(c.Request.Context(), id); errDeactivate != nil {
		respondLoyaltyError(c, errDeactivate)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a card and its dependent rows.
func (h *CardAdminHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if errDelete := h.registry.Delete(c.Request.Context(), id); errDelete != nil {
		respondLoyaltyError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// formatCard shapes a card row for admin responses.
func (h *CardAdminHandler) formatCard(card *models.Card) gin.H {
	out := gin.H{
		"id":               card.ID,
		"type":             card.Type,
		"code":             card.Code,
		"title":            card.Title,
		"description":      card.Description,
		"status":           card.Status,
		"expires_at":       card.ExpiresAt,
		"owner_id":         card.OwnerID,
		"used_at":          card.UsedAt,
		"background_color": card.BackgroundColor,
		"text_color":       card.TextColor,
		"created_at":       card.CreatedAt,
	}
	if card.Owner != nil {
		out["owner"] = gin.H{"id": card.Owner.ID, "username": card.Owner.Username}
	}
	switch card.Type {
	case models.CardTypeGift:
		out["gift_type"] = card.GiftType
		out["discount_value"] = card.DiscountValue
		out["image_url"] = card.ImageURL
	case models.CardTypeCoins:
		out["coins_value"] = card.CoinsValue
	}
	return out
}

// parseIDParam reads the :id path parameter.
func parseIDParam(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
