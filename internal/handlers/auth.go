package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mediaforge/api/internal/middleware"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/service"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type authResponse struct {
	AccessToken string       `json:"accessToken"`
	User        userResponse `json:"user"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Status      string `json:"status"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Status:      string(u.Status),
	}
}

func (h HandlerSet) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, service.ErrUserSuspended) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, authResponse{
		AccessToken: result.AccessToken,
		User:        toUserResponse(result.User),
	})
}

func (h HandlerSet) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": toUserResponse(user)})
}

type quotaResponse struct {
	ResourceType string `json:"resourceType"`
	Policy       string `json:"policy"`
	Limit        *int64 `json:"limit"`
	Used         int64  `json:"used"`
	Remaining    *int64 `json:"remaining"`
}

func toQuotaResponse(q models.Quota) quotaResponse {
	return quotaResponse{
		ResourceType: string(q.ResourceType),
		Policy:       string(q.Policy),
		Limit:        q.Limit,
		Used:         q.Used,
		Remaining:    q.Remaining(),
	}
}

func (h HandlerSet) MyQuotas(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	quotas, err := h.ledger.GetAll(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", user.ID).Msg("quota lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "quota_lookup_failed"})
		return
	}

	resp := make([]quotaResponse, 0, len(quotas))
	for _, q := range quotas {
		resp = append(resp, toQuotaResponse(q))
	}
	c.JSON(http.StatusOK, gin.H{"quotas": resp})
}
