package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"mediaforge/api/internal/jobs"
	"mediaforge/api/internal/middleware"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/quota"
	"mediaforge/api/internal/service"
)

type generateVideoRequest struct {
	Prompt          string   `json:"prompt" binding:"required"`
	Model           string   `json:"model"`
	Mode            string   `json:"mode"`
	NegativePrompt  string   `json:"negativePrompt"`
	FirstFrame      string   `json:"firstFrame"`
	LastFrame       string   `json:"lastFrame"`
	ReferenceImages []string `json:"referenceImages"`
}

type jobResponse struct {
	ID              string     `json:"id"`
	ResourceType    string     `json:"resourceType"`
	Prompt          string     `json:"prompt"`
	Model           string     `json:"model"`
	Mode            string     `json:"mode"`
	State           string     `json:"state"`
	ResultMediaID   *string    `json:"resultMediaId,omitempty"`
	FailureCategory *string    `json:"failureCategory,omitempty"`
	ErrorReason     *string    `json:"errorReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

func toJobResponse(j models.Job) jobResponse {
	return jobResponse{
		ID:              j.ID,
		ResourceType:    string(j.ResourceType),
		Prompt:          j.Prompt,
		Model:           j.Model,
		Mode:            j.Mode,
		State:           string(j.State),
		ResultMediaID:   j.ResultMediaID,
		FailureCategory: j.FailureCategory,
		ErrorReason:     j.ErrorReason,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		CompletedAt:     j.CompletedAt,
	}
}

func (h HandlerSet) GenerateVideo(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req generateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.generation.StartVideo(c.Request.Context(), service.VideoInput{
		User:            user,
		SourceAddress:   c.ClientIP(),
		Prompt:          req.Prompt,
		Model:           req.Model,
		Mode:            req.Mode,
		NegativePrompt:  req.NegativePrompt,
		FirstFrame:      req.FirstFrame,
		LastFrame:       req.LastFrame,
		ReferenceImages: req.ReferenceImages,
	})
	if err != nil {
		var denied *quota.DeniedError
		if errors.As(err, &denied) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": denied.Error()})
			return
		}
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("video job creation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generation_failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": toJobResponse(job)})
}

func (h HandlerSet) ListJobs(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	limit, offset := pagination(c)
	list, err := h.jobService.ListByOwner(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("job listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}

	resp := make([]jobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, toJobResponse(j))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": resp})
}

func (h HandlerSet) GetJob(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	job, err := h.jobService.GetStatus(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
			return
		}
		h.log.Error().Err(err).Str("job_id", c.Param("id")).Msg("job lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": toJobResponse(job)})
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(c.Query("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
