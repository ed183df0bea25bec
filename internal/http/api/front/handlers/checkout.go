package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/restobites/loyalty-ledger/internal/loyalty"
)

// CheckoutHandler folds card effects into order drafts.
type CheckoutHandler struct {
	applicator *loyalty.Applicator
}

// NewCheckoutHandler constructs a CheckoutHandler.
func NewCheckoutHandler(applicator *loyalty.Applicator) *CheckoutHandler {
	return &CheckoutHandler{applicator: applicator}
}

// applyRequest defines the request body for applying a card at checkout.
type applyRequest struct {
	Order    loyalty.OrderDraft `json:"order"`
	CardCode string             `json:"card_code"`
	Action   string             `json:"action"`
}

// Apply applies one card action to an order draft and returns the effect.
func (h *CheckoutHandler) Apply(c *gin.Context) {
	var body applyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cardCode := strings.TrimSpace(body.CardCode)
	if cardCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing card_code"})
		return
	}

	effect, errApply := h.applicator.ApplyCard(c.Request.Context(), body.Order, cardCode, getUserID(c), loyalty.Action(body.Action))
	if errApply != nil {
		respondLoyaltyError(c, errApply)
		return
	}
	c.JSON(http.StatusOK, gin.H{"effect": effect})
}
