package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/models"
	"github.com/restobites/loyalty-ledger/internal/settings"
)

// SettingsHandler serves runtime-tunable policy endpoints.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

// CodePolicy returns the current card code length policy.
func (h *SettingsHandler) CodePolicy(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code_policy": settings.Policy()})
}

// updateCodePolicyRequest captures optional per-type code lengths.
type updateCodePolicyRequest struct {
	RewardLength *int `json:"reward_length"`
	GiftLength   *int `json:"gift_length"`
	CoinsLength  *int `json:"coins_length"`
}

// UpdateCodePolicy persists new code lengths and refreshes the in-memory
// snapshot. Existing cards keep their codes.
func (h *SettingsHandler) UpdateCodePolicy(c *gin.Context) {
	var body updateCodePolicyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.RewardLength == nil && body.GiftLength == nil && body.CoinsLength == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no fields to update"})
		return
	}

	updates := []struct {
		cardType models.CardType
		length   *int
	}{
		{models.CardTypeReward, body.RewardLength},
		{models.CardTypeGift, body.GiftLength},
		{models.CardTypeCoins, body.CoinsLength},
	}
	for _, update := range updates {
		if update.length == nil {
			continue
		}
		if errUpdate := settings.UpdateCodeLength(c.Request.Context(), h.db, update.cardType, *update.length); errUpdate != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errUpdate.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"code_policy": settings.Policy()})
}
