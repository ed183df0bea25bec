package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/restobites/loyalty-ledger/internal/loyalty"
)

// getUserID returns the authenticated user ID from the request context, or 0.
func getUserID(c *gin.Context) uint64 {
	value, ok := c.Get("userID")
	if !ok {
		return 0
	}
	id, ok := value.(uint64)
	if !ok {
		return 0
	}
	return id
}

// respondLoyaltyError writes a loyalty failure as JSON with the status code
// matching its kind. Untyped errors become an opaque 500.
func respondLoyaltyError(c *gin.Context, err error) {
	kind := loyalty.KindOf(err)
	if kind == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}

// statusForKind maps business-rule failure kinds to HTTP status codes.
func statusForKind(kind loyalty.Kind) int {
	switch kind {
	case loyalty.KindNotFound:
		return http.StatusNotFound
	case loyalty.KindCardNotOwned:
		return http.StatusForbidden
	case loyalty.KindCardExpired:
		return http.StatusGone
	case loyalty.KindCardAlreadyOwned,
		loyalty.KindCardAlreadyUsed,
		loyalty.KindAlreadyActivated,
		loyalty.KindAlreadyRedeemed:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
