// internal/api/router.go
package api

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Meow711/story-generator-ui/internal/config"
	"github.com/Meow711/story-generator-ui/internal/di"
	"github.com/Meow711/story-generator-ui/internal/services"
	"github.com/Meow711/story-generator-ui/internal/utils"
	"github.com/gin-gonic/gin"
)

// SetupRouter 从容器取出服务并配置HTTP路由
func SetupRouter(container *di.Container) (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	storyService, err := di.Resolve[*services.StoryService](container, di.ServiceStory)
	if err != nil {
		return nil, fmt.Errorf("故事服务未正确初始化: %w", err)
	}

	stageRunner, err := di.Resolve[StageRunner](container, di.ServiceGenerator)
	if err != nil {
		return nil, fmt.Errorf("生成服务未正确初始化: %w", err)
	}

	images, err := di.Resolve[ImageService](container, di.ServiceImages)
	if err != nil {
		return nil, fmt.Errorf("图像服务未正确初始化: %w", err)
	}

	metrics, err := di.Resolve[*utils.AppMetrics](container, di.ServiceMetrics)
	if err != nil {
		metrics = utils.NewAppMetrics()
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := NewHandler(storyService, stageRunner, images, metrics)
	container.Register(di.ServiceWebSocket, handler.WebSocketHandler)

	return NewRouter(handler, cfg.StaticDir), nil
}

// NewRouter 注册所有路由
func NewRouter(handler *Handler, staticDir string) *gin.Engine {
	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(MetricsMiddleware(handler.Metrics))
	r.Use(corsMiddleware())

	// 前端静态文件（目录存在时）
	if staticDir != "" {
		if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
			r.Static("/static", staticDir)
			index := filepath.Join(staticDir, "index.html")
			if _, err := os.Stat(index); err == nil {
				r.StaticFile("/", index)
			}
		}
	}

	r.GET("/health", handler.Health)

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.WebSocketHandler.SessionWebSocket)

	// ===============================
	// 生成代理：根路径与 /api 下同时提供
	// ===============================
	registerProxyRoutes(r.Group(""), handler)

	api := r.Group("/api")
	{
		registerProxyRoutes(api, handler)

		// ===============================
		// 向导会话
		// ===============================
		sessions := api.Group("/sessions")
		{
			sessions.POST("", handler.CreateSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.DELETE("/:id", handler.DeleteSession)
			sessions.PUT("/:id/draft", handler.UpdateDraft)
			sessions.POST("/:id/blur", handler.BlurField)
			sessions.POST("/:id/advance", handler.AdvanceSession)
			sessions.POST("/:id/restart", handler.RestartSession)
			sessions.POST("/:id/cover", handler.GenerateCover)
			sessions.GET("/:id/outline", handler.GetOutline)
			sessions.GET("/:id/plan/tree", handler.GetPlanTree)

			// 聊天
			chatGroup := sessions.Group("/:id/chat")
			{
				chatGroup.GET("", handler.GetChat)
				chatGroup.POST("/open", handler.OpenChat)
				chatGroup.POST("/close", handler.CloseChat)
				chatGroup.PUT("/current", handler.SelectContact)
				chatGroup.POST("/messages", handler.SendMessage)
				chatGroup.GET("/thread", handler.GetThread)
			}
		}

		// ===============================
		// 进度
		// ===============================
		api.GET("/progress/:taskID", handler.SubscribeProgress)
		api.GET("/tasks/:taskID", handler.GetProgress)

		// ===============================
		// 设置与指标
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("", handler.SaveSettings)
		}
		api.GET("/metrics", handler.GetMetrics)
	}

	return r
}

func registerProxyRoutes(group *gin.RouterGroup, handler *Handler) {
	group.POST("/generate_image", handler.GenerateImage)
	group.POST("/premise", handler.GeneratePremise)
	group.POST("/plan", handler.GeneratePlan)
	group.POST("/story", handler.GenerateStory)
}
