package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mediaforge/api/internal/middleware"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/quota"
	"mediaforge/api/internal/repository"
	"mediaforge/api/internal/service"
)

type createUserRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func (h HandlerSet) AdminCreateUser(c *gin.Context) {
	admin, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.auth.CreateUser(c.Request.Context(), admin, service.CreateUserInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		Role:        models.UserRole(req.Role),
	})
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": toUserResponse(user)})
}

// managedTarget resolves the :userId param and enforces that the requesting
// admin manages that user. Writes the error response itself on failure.
func (h HandlerSet) managedTarget(c *gin.Context, admin models.User) (string, bool) {
	targetID := c.Param("userId")

	if _, err := h.users.GetByID(c.Request.Context(), targetID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
			return "", false
		}
		h.log.Error().Err(err).Str("user_id", targetID).Msg("user lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return "", false
	}

	ok, err := h.users.CanManage(c.Request.Context(), admin.ID, targetID)
	if err != nil {
		h.log.Error().Err(err).Str("admin_id", admin.ID).Msg("management check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return "", false
	}
	if !ok && admin.ID != targetID {
		// Same response as a missing user, so admins cannot probe for
		// accounts outside their scope.
		c.JSON(http.StatusNotFound, gin.H{"error": "user_not_found"})
		return "", false
	}

	return targetID, true
}

func (h HandlerSet) AdminGetQuotas(c *gin.Context) {
	admin, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	targetID, ok := h.managedTarget(c, admin)
	if !ok {
		return
	}

	quotas, err := h.ledger.GetAll(c.Request.Context(), targetID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", targetID).Msg("quota lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota_lookup_failed"})
		return
	}

	resp := make([]quotaResponse, 0, len(quotas))
	for _, q := range quotas {
		resp = append(resp, toQuotaResponse(q))
	}
	c.JSON(http.StatusOK, gin.H{"userId": targetID, "quotas": resp})
}

type setQuotaRequest struct {
	ResourceType string `json:"resourceType" binding:"required,oneof=image video text"`
	Policy       string `json:"policy" binding:"required,oneof=limited unlimited"`
	Limit        *int64 `json:"limit"`
}

func (h HandlerSet) AdminSetQuota(c *gin.Context) {
	admin, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	targetID, ok := h.managedTarget(c, admin)
	if !ok {
		return
	}

	var req setQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.ledger.SetPolicy(c.Request.Context(), targetID,
		models.ResourceType(req.ResourceType), models.QuotaPolicy(req.Policy), req.Limit)
	if err != nil {
		if errors.Is(err, quota.ErrInvalidLimit) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.log.Error().Err(err).Str("user_id", targetID).Msg("quota update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota_update_failed"})
		return
	}

	h.log.Info().
		Str("admin_id", admin.ID).
		Str("user_id", targetID).
		Str("resource", req.ResourceType).
		Str("policy", req.Policy).
		Msg("quota policy updated")
	c.JSON(http.StatusOK, gin.H{"quota": toQuotaResponse(updated)})
}

type resetQuotaRequest struct {
	ResourceType string `json:"resourceType" binding:"required,oneof=image video text"`
}

func (h HandlerSet) AdminResetQuota(c *gin.Context) {
	admin, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	targetID, ok := h.managedTarget(c, admin)
	if !ok {
		return
	}

	var req resetQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resource := models.ResourceType(req.ResourceType)
	if err := h.ledger.Reset(c.Request.Context(), targetID, resource); err != nil {
		h.log.Error().Err(err).Str("user_id", targetID).Msg("quota reset failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota_reset_failed"})
		return
	}

	updated, err := h.ledger.Get(c.Request.Context(), targetID, resource)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", targetID).Msg("quota lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota_lookup_failed"})
		return
	}

	h.log.Info().
		Str("admin_id", admin.ID).
		Str("user_id", targetID).
		Str("resource", req.ResourceType).
		Msg("quota usage reset")
	c.JSON(http.StatusOK, gin.H{"quota": toQuotaResponse(updated)})
}

func (h HandlerSet) AdminMediaStats(c *gin.Context) {
	stats, err := h.media.Stats(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("media stats failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"totalFiles": stats.TotalFiles,
		"totalBytes": stats.TotalBytes,
		"images":     stats.Images,
		"videos":     stats.Videos,
		"texts":      stats.Texts,
	})
}
