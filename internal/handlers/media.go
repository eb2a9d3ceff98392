package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mediaforge/api/internal/middleware"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/service"
)

type mediaResponse struct {
	ID          string    `json:"id"`
	MediaType   string    `json:"mediaType"`
	MimeType    string    `json:"mimeType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Prompt      string    `json:"prompt"`
	Model       string    `json:"model"`
	OwnerUserID string    `json:"ownerUserId"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toMediaResponse(m models.Media) mediaResponse {
	return mediaResponse{
		ID:          m.ID,
		MediaType:   string(m.MediaType),
		MimeType:    m.MimeType,
		SizeBytes:   m.SizeBytes,
		Prompt:      m.Prompt,
		Model:       m.Model,
		OwnerUserID: m.OwnerUserID,
		CreatedAt:   m.CreatedAt,
	}
}

func (h HandlerSet) GetMedia(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	media, err := h.media.GetInfo(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		h.respondMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"media": toMediaResponse(media)})
}

func (h HandlerSet) DownloadMedia(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	media, payload, err := h.media.Get(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		h.respondMediaError(c, err)
		return
	}

	c.Data(http.StatusOK, media.MimeType, payload)
}

func (h HandlerSet) ListMedia(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var mediaType *models.ResourceType
	switch c.Query("type") {
	case "image":
		t := models.ResourceImage
		mediaType = &t
	case "video":
		t := models.ResourceVideo
		mediaType = &t
	case "text":
		t := models.ResourceText
		mediaType = &t
	case "":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown media type"})
		return
	}

	limit, offset := pagination(c)
	list, err := h.media.List(c.Request.Context(), user, mediaType, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("media listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}

	resp := make([]mediaResponse, 0, len(list))
	for _, m := range list {
		resp = append(resp, toMediaResponse(m))
	}
	c.JSON(http.StatusOK, gin.H{"media": resp})
}

func (h HandlerSet) DeleteMedia(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.media.Delete(c.Request.Context(), c.Param("id"), user); err != nil {
		h.respondMediaError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h HandlerSet) respondMediaError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrMediaNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "media_not_found"})
		return
	}
	h.log.Error().Err(err).Str("media_id", c.Param("id")).Msg("media operation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "media_operation_failed"})
}
