package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mediaforge/api/internal/middleware"
	"mediaforge/api/internal/provider"
	"mediaforge/api/internal/quota"
	"mediaforge/api/internal/service"
)

type generateTextRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Model  string `json:"model"`
}

func (h HandlerSet) GenerateText(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req generateTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	media, text, err := h.generation.GenerateText(c.Request.Context(), service.TextInput{
		User:          user,
		SourceAddress: c.ClientIP(),
		Prompt:        req.Prompt,
		Model:         req.Model,
	})
	if err != nil {
		var denied *quota.DeniedError
		if errors.As(err, &denied) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": denied.Error()})
			return
		}
		var rejected *provider.RejectedError
		if errors.As(err, &rejected) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": rejected.Error()})
			return
		}
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("text generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generation_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"media": toMediaResponse(media), "text": text})
}
