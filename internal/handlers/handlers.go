package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"mediaforge/api/internal/config"
	"mediaforge/api/internal/jobs"
	"mediaforge/api/internal/middleware"
	"mediaforge/api/internal/models"
	"mediaforge/api/internal/quota"
	"mediaforge/api/internal/ratelimit"
	"mediaforge/api/internal/repository"
	"mediaforge/api/internal/service"
)

type HandlerSet struct {
	log        zerolog.Logger
	cfg        *config.AppConfig
	auth       *service.AuthService
	generation *service.GenerationService
	media      *service.MediaService
	jobService *jobs.Service
	ledger     quota.Ledger
	limiter    *ratelimit.Limiter
	db         *pgxpool.Pool
	cache      *redis.Client
	users      *repository.UserRepository
}

type Deps struct {
	Log        zerolog.Logger
	Cfg        *config.AppConfig
	DB         *pgxpool.Pool
	Cache      *redis.Client
	Users      *repository.UserRepository
	Ledger     quota.Ledger
	JobService *jobs.Service
	Media      *service.MediaService
	Generation *service.GenerationService
	Auth       *service.AuthService
}

func NewHandlerSet(deps Deps) HandlerSet {
	return HandlerSet{
		log:        deps.Log,
		cfg:        deps.Cfg,
		auth:       deps.Auth,
		generation: deps.Generation,
		media:      deps.Media,
		jobService: deps.JobService,
		ledger:     deps.Ledger,
		limiter:    ratelimit.New(deps.Cache, deps.Cfg.RateLimit.Window, deps.Cfg.RateLimit.MaxCalls),
		db:         deps.DB,
		cache:      deps.Cache,
		users:      deps.Users,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/login", h.Login)

		me := v1.Group("/auth")
		me.Use(middleware.Auth(h.cfg, h.users))
		me.GET("/me", h.Me)
		me.GET("/me/quotas", h.MyQuotas)

		video := v1.Group("/video")
		video.Use(middleware.Auth(h.cfg, h.users))
		generate := video.Group("")
		if h.cfg.RateLimit.Enabled {
			generate.Use(middleware.RateLimit(h.limiter, "video"))
		}
		generate.POST("/generate", h.GenerateVideo)
		video.GET("/jobs", h.ListJobs)
		video.GET("/jobs/:id", h.GetJob)

		image := v1.Group("/image")
		image.Use(middleware.Auth(h.cfg, h.users))
		if h.cfg.RateLimit.Enabled {
			image.Use(middleware.RateLimit(h.limiter, "image"))
		}
		image.POST("/generate", h.GenerateImage)

		text := v1.Group("/text")
		text.Use(middleware.Auth(h.cfg, h.users))
		if h.cfg.RateLimit.Enabled {
			text.Use(middleware.RateLimit(h.limiter, "text"))
		}
		text.POST("/generate", h.GenerateText)

		media := v1.Group("/media")
		media.Use(middleware.Auth(h.cfg, h.users))
		media.GET("", h.ListMedia)
		media.GET("/:id", h.GetMedia)
		media.GET("/:id/content", h.DownloadMedia)
		media.DELETE("/:id", h.DeleteMedia)

		admin := v1.Group("/admin")
		admin.Use(
			middleware.Auth(h.cfg, h.users),
			middleware.RequireRoles(models.UserRoleAdmin, models.UserRoleSuperAdmin),
		)
		admin.POST("/users", h.AdminCreateUser)
		admin.GET("/quotas/:userId", h.AdminGetQuotas)
		admin.PUT("/quotas/:userId", h.AdminSetQuota)
		admin.POST("/quotas/:userId/reset", h.AdminResetQuota)
		admin.GET("/media/stats", h.AdminMediaStats)
	}
}
