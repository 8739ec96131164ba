package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forecastpool/exchange/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondDomainError maps a service error onto the wire via the error
// taxonomy. Uncoded errors become 500 INTERNAL_ERROR with a generic message;
// the detail goes to the log only.
func respondDomainError(c *gin.Context, err error) {
	status := domain.HTTPStatusOf(err)
	code := domain.CodeOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError && code == "INTERNAL_ERROR" {
		log.Printf("internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		msg = "internal error"
	}
	respondError(c, status, code, msg)
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total": total,
			"page":  page,
			"limit": limit,
		},
	})
}
