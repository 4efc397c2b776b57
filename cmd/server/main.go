// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindcare-go/internal/config"
	"mindcare-go/internal/handler"
	"mindcare-go/internal/middleware"
	"mindcare-go/internal/pipeline"
	"mindcare-go/internal/repository"
	"mindcare-go/internal/service"
	"mindcare-go/pkg/database"
	"mindcare-go/pkg/kafka"
	"mindcare-go/pkg/llm"
	"mindcare-go/pkg/log"
	"mindcare-go/pkg/storage"
	"mindcare-go/pkg/token"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、对象存储与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.AutoMigrate()
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	settingRepo := repository.NewSettingRepository(database.DB)
	sessionRepo := repository.NewSessionRepository(database.DB)
	responseRepo := repository.NewResponseRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	mediaRepo := repository.NewMediaRepository(database.DB)
	analysisRepo := repository.NewAnalysisRepository(database.DB)
	planRepo := repository.NewQuestionPlanRepository(database.RDB)
	interviewStateRepo := repository.NewInterviewStateRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	llmClient := llm.NewClient(cfg.LLM)
	userService := service.NewUserService(userRepository, jwtManager)
	settingsService := service.NewSettingsService(settingRepo)
	balanceService := service.NewBalanceService(sessionRepo)
	questionService := service.NewQuestionService(planRepo, responseRepo, settingsService)
	interviewService := service.NewInterviewService(interviewStateRepo, conversationRepo, settingsService, llmClient)
	mediaService := service.NewMediaService(mediaRepo, settingsService)
	assessmentService := service.NewAssessmentService(
		sessionRepo,
		analysisRepo,
		balanceService,
		questionService,
		interviewService,
		mediaService,
		settingsService,
	)
	adminService := service.NewAdminService(
		userRepository,
		sessionRepo,
		analysisRepo,
		settingsService,
		balanceService,
		assessmentService,
	)

	// 6. 写入缺失的默认设置（已有值不覆盖）
	if err := settingsService.EnsureDefaults(); err != nil {
		log.Errorf("写入默认设置失败 %s", err)
		return
	}

	// 7. 启动后台 Kafka 消费者处理会话分析任务
	analyzer := pipeline.NewAnalyzer(
		sessionRepo,
		conversationRepo,
		analysisRepo,
		questionService,
		settingsService,
		llmClient,
	)
	go kafka.StartConsumer(cfg.Kafka, analyzer)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 跨域、自定义日志中间件和 Gin 的 Recovery 中间件
	corsConfig := cors.DefaultConfig()
	if len(cfg.CORS.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORS.AllowOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	r.Use(cors.New(corsConfig), middleware.RequestLogger(), gin.Recovery())

	// 9. 初始化 Handler
	userHandler := handler.NewUserHandler(userService)
	authHandler := handler.NewAuthHandler(userService)
	sessionHandler := handler.NewSessionHandler(assessmentService, mediaService, settingsService)
	questionHandler := handler.NewQuestionHandler(assessmentService, questionService)
	interviewHandler := handler.NewInterviewHandler(assessmentService, interviewService, jwtManager)
	mediaHandler := handler.NewMediaHandler(assessmentService, mediaService)
	adminHandler := handler.NewAdminHandler(adminService)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.POST("/logout", userHandler.Logout)
			}
		}

		// 评估路由组，需要认证
		assessment := apiV1.Group("/assessment")
		assessment.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			assessment.POST("/sessions", sessionHandler.Start)
			assessment.GET("/sessions/current", sessionHandler.Current)
			assessment.GET("/sessions/:id", sessionHandler.Get)
			assessment.DELETE("/sessions/:id", sessionHandler.Erase)
			assessment.POST("/sessions/:id/discard", sessionHandler.Discard)
			assessment.GET("/sessions/:id/summary", sessionHandler.Summary)

			// 知情同意与摄像头检查
			assessment.GET("/sessions/:id/consent", sessionHandler.GetConsent)
			assessment.POST("/sessions/:id/consent", sessionHandler.SubmitConsent)
			assessment.POST("/sessions/:id/camera", sessionHandler.VerifyCamera)
			assessment.GET("/sessions/:id/capture-policy", sessionHandler.GetCapturePolicy)

			// 量表环节
			assessment.GET("/sessions/:id/question", questionHandler.GetCurrent)
			assessment.POST("/sessions/:id/responses", questionHandler.SubmitResponse)
			assessment.POST("/sessions/:id/questionnaire/complete", sessionHandler.CompleteQuestionnaire)

			// 访谈环节
			assessment.GET("/sessions/:id/interview", interviewHandler.GetEntry)
			assessment.POST("/sessions/:id/interview/complete", sessionHandler.CompleteInterview)
			assessment.GET("/interview/websocket-token", interviewHandler.GetWebsocketStopToken)

			// 摄像头采集媒体
			assessment.POST("/sessions/:id/media", mediaHandler.Save)
			assessment.GET("/sessions/:id/media", mediaHandler.List)
			assessment.GET("/sessions/:id/media/validate", mediaHandler.Validate)
		}

		// 访谈 WebSocket 路由，令牌在路径中校验
		r.GET("/interview/:token", interviewHandler.Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			// 运营设置管理
			admin.GET("/settings", adminHandler.ListSettings)
			admin.PUT("/settings", adminHandler.UpdateSettings)

			// 用户与会话管理
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.GET("/sessions", adminHandler.ListSessions)
			admin.GET("/sessions/:id", adminHandler.GetSessionDetail)
			admin.DELETE("/sessions/:id", adminHandler.EraseSession)

			// 统计与后台分析
			admin.GET("/statistics", adminHandler.Statistics)
			admin.POST("/sessions/:id/analysis", adminHandler.TriggerAnalysis)
			admin.GET("/sessions/:id/analysis", adminHandler.ListAnalyses)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// 在优雅停机逻辑中，我们不需要手动关闭 Kafka 消费者，
	// 因为 StartConsumer 是一个循环，会在程序退出时自然结束。
	// 如果需要更精细的控制，可以在 StartConsumer 中实现一个关闭通道。
	log.Info("服务已优雅关闭")
}
