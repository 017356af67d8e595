package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"phJobs/internal/api/middleware"
	"phJobs/internal/application"
	"phJobs/internal/auth"
	"phJobs/internal/config"
	"phJobs/internal/payment"
	"phJobs/internal/storage"
)

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(
	router *gin.Engine,
	cfg *config.Config,
	db *gorm.DB,
	asynqClient *asynq.Client,
	authService *auth.AuthService,
	redisClient *redis.Client,
	logger *slog.Logger,
	storageClient *storage.Client,
	gateway *payment.Client,
) {
	authHandler := NewAuthHandler(
		db,
		authService,
		redisClient,
		logger,
		cfg.Auth.LoginRateLimitPerHour,
		cfg.Auth.LoginLockThreshold,
		cfg.Auth.LoginLockTTL,
		cfg.API.CookieDomain,
	)
	wsHandler := NewWsHandler(redisClient, authService, logger, cfg.API.Origins())
	companyHandler := NewCompanyHandler(db, logger)
	jobHandler := NewJobHandler(db, logger)
	applicationHandler := NewApplicationHandler(db, application.NewService(db), asynqClient, logger)
	subscriptionHandler := NewSubscriptionHandler(db, gateway, logger)
	webhookHandler := NewWebhookHandler(db, gateway, payment.NewReconciler(db, gateway, logger), asynqClient, logger)
	notificationHandler := NewNotificationHandler(db)
	cvHandler := NewCVHandler(db, storageClient, logger, cfg.Upload.ClamdAddr, cfg.Upload.MaxBytes)

	authMiddleware := middleware.AuthMiddleware(authService)
	employerOnly := middleware.RequireRole(auth.RoleEmployer)
	candidateOnly := middleware.RequireRole(auth.RoleCandidate)

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
		}

		// 公开检索面。
		v1.GET("/jobs", jobHandler.ListJobs)
		v1.GET("/jobs/:id", jobHandler.GetJob)
		v1.GET("/companies", companyHandler.ListCompanies)
		v1.GET("/companies/:slug", companyHandler.GetCompanyBySlug)
		v1.GET("/plans", subscriptionHandler.ListPlans)

		// 支付网关回调，凭签名而非会话鉴权。
		v1.POST("/payments/midtrans/notify", webhookHandler.HandlePaymentNotification)

		companyGroup := v1.Group("/employer/company")
		companyGroup.Use(authMiddleware, employerOnly)
		{
			companyGroup.POST("", companyHandler.CreateCompany)
			companyGroup.PUT("", companyHandler.UpdateCompany)
			companyGroup.GET("", companyHandler.MyCompany)
		}

		employerJobs := v1.Group("/employer/jobs")
		employerJobs.Use(authMiddleware, employerOnly)
		{
			employerJobs.POST("", jobHandler.CreateJob)
			employerJobs.PUT("/:id", jobHandler.UpdateJob)
			employerJobs.POST("/:id/close", jobHandler.CloseJob)
			employerJobs.GET("/:id/applications", applicationHandler.ListForJob)
		}

		employerApplications := v1.Group("/employer/applications")
		employerApplications.Use(authMiddleware, employerOnly)
		{
			employerApplications.PATCH("/:id/status", applicationHandler.UpdateStatus)
			employerApplications.POST("/bulk-status", applicationHandler.BulkUpdateStatus)
			employerApplications.GET("/:id/cv-link", cvHandler.ApplicationCVURL)
		}

		candidateGroup := v1.Group("/applications")
		candidateGroup.Use(authMiddleware, candidateOnly)
		{
			candidateGroup.POST("", applicationHandler.Apply)
			candidateGroup.GET("", applicationHandler.ListMine)
			candidateGroup.POST("/:id/withdraw", applicationHandler.Withdraw)
		}

		cvGroup := v1.Group("/cv")
		cvGroup.Use(authMiddleware, candidateOnly)
		{
			cvGroup.POST("/upload", cvHandler.UploadCV)
			cvGroup.GET("/link", cvHandler.MyCVURL)
		}

		subscriptionGroup := v1.Group("/subscriptions")
		subscriptionGroup.Use(authMiddleware, employerOnly)
		{
			subscriptionGroup.POST("/checkout", subscriptionHandler.Checkout)
			subscriptionGroup.GET("/me", subscriptionHandler.MySubscription)
			subscriptionGroup.POST("/cancel", subscriptionHandler.Cancel)
			subscriptionGroup.POST("/renew", subscriptionHandler.Renew)
		}

		notificationGroup := v1.Group("/notifications")
		notificationGroup.Use(authMiddleware)
		{
			notificationGroup.GET("", notificationHandler.List)
			notificationGroup.GET("/unread-count", notificationHandler.UnreadCount)
			notificationGroup.POST("/:id/read", notificationHandler.MarkRead)
			notificationGroup.POST("/read-all", notificationHandler.MarkAllRead)
		}
	}
}
