package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/restobites/loyalty-ledger/internal/wallet"
)

// WalletHandler serves the customer's coin wallet.
type WalletHandler struct {
	db *gorm.DB
}

// NewWalletHandler constructs a WalletHandler.
func NewWalletHandler(db *gorm.DB) *WalletHandler {
	return &WalletHandler{db: db}
}

// Balance returns the current coin balance.
func (h *WalletHandler) Balance(c *gin.Context) {
	balance, errBalance := wallet.Balance(c.Request.Context(), h.db, getUserID(c))
	if errBalance != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load balance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// History returns recent wallet movements, newest first.
func (h *WalletHandler) History(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 || parsed > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, errHistory := wallet.History(c.Request.Context(), h.db, getUserID(c), limit)
	if errHistory != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		out = append(out, gin.H{
			"kind":       entry.Kind,
			"amount":     entry.Amount,
			"reason":     entry.Reason,
			"card_id":    entry.CardID,
			"created_at": entry.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}
