package handlers

import (
	"net/http"

	"go-pos-ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

type AskRequest struct {
	Message string `json:"message" binding:"required"`
}

// --- POST: /api/ask ---
func (h *Handler) AskAI(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message is required"})
		return
	}
	if h.assistant == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Assistant is not configured"})
		return
	}

	response, err := h.assistant.Ask(c.Request.Context(), req.Message)
	if err != nil {
		logger.Error(c.Request.Context()).Err(err).Msg("Assistant request failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "Assistant is unavailable, please retry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reply": response})
}
