package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	dbutil "github.com/restobites/loyalty-ledger/internal/db"
	"github.com/restobites/loyalty-ledger/internal/models"
)

// UserAdminHandler handles back-office customer account management.
type UserAdminHandler struct {
	db *gorm.DB
}

// NewUserAdminHandler constructs a UserAdminHandler.
func NewUserAdminHandler(db *gorm.DB) *UserAdminHandler {
	return &UserAdminHandler{db: db}
}

// List returns customer accounts matching the query filters.
func (h *UserAdminHandler) List(c *gin.Context) {
	var (
		usernameQ = strings.TrimSpace(c.Query("username"))
		disabledQ = strings.TrimSpace(c.Query("disabled"))
	)

	q := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if usernameQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+usernameQ+"%")
		q = q.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "username"), pattern)
	}
	if disabledQ == "true" || disabledQ == "1" {
		q = q.Where("disabled = ?", true)
	} else if disabledQ == "false" || disabledQ == "0" {
		q = q.Where("disabled = ?", false)
	}

	var rows []models.User
	if errFind := q.Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":         row.ID,
			"username":   row.Username,
			"email":      row.Email,
			"phone":      row.Phone,
			"disabled":   row.Disabled,
			"created_at": row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// setDisabledRequest defines the request body for toggling an account.
type setDisabledRequest struct {
	Disabled *bool `json:"disabled"`
}

// SetDisabled enables or disables a customer account. Disabled accounts
// cannot sign in or operate cards.
func (h *UserAdminHandler) SetDisabled(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var body setDisabledRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Disabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing disabled"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&user).
		Updates(map[string]any{"disabled": *body.Disabled, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID, "disabled": *body.Disabled})
}
