package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health reports liveness for the admin surface.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
