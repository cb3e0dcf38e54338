// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Meow711/story-generator-ui/internal/api"
	"github.com/Meow711/story-generator-ui/internal/config"
	"github.com/Meow711/story-generator-ui/internal/di"
	"github.com/Meow711/story-generator-ui/internal/generator"
	"github.com/Meow711/story-generator-ui/internal/imagegen"
	"github.com/Meow711/story-generator-ui/internal/services"
	"github.com/Meow711/story-generator-ui/internal/utils"
)

const (
	shutdownTimeout     = 30 * time.Second
	progressCleanupTick = 5 * time.Minute
	progressMaxAge      = 30 * time.Minute
)

// httpServer 便于测试时替换真实服务器
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 持有运行期的配置、路由与服务器
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   httpServer
	stopChan chan os.Signal

	cancelBackground context.CancelFunc
}

var (
	instance *App
	mu       sync.Mutex
)

// GetApp 返回全局应用实例
func GetApp() *App {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 加载配置、初始化日志和服务并构建路由
func Initialize(dataDir string) error {
	if err := config.InitConfig(dataDir); err != nil {
		return fmt.Errorf("初始化配置失败: %w", err)
	}

	app := GetApp()
	app.config = config.GetCurrentConfig()

	if err := initLogger(app.config.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter(di.GetContainer())
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router
	app.server = &http.Server{
		Addr:    ":" + app.config.Port,
		Handler: router,
	}

	utils.GetLogger().Info("应用初始化完成", map[string]interface{}{
		"port":       app.config.Port,
		"input_mode": app.config.InputMode,
		"debug_mode": app.config.DebugMode,
	})
	return nil
}

// InitServices 按依赖顺序创建服务并注册到全局容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	metrics := utils.NewAppMetrics()
	container.Register(di.ServiceMetrics, metrics)

	images := imagegen.NewClient(imagegen.ConfigFrom(cfg)).WithMetrics(metrics)
	container.Register(di.ServiceImages, images)

	runner := generator.NewRunner(generator.ConfigFrom(cfg)).WithMetrics(metrics)
	container.Register(di.ServiceGenerator, runner)

	progress := services.NewProgressService()
	container.Register(di.ServiceProgress, progress)

	story := services.NewStoryService(runner, images, progress).WithMetrics(metrics)
	container.Register(di.ServiceStory, story)

	ctx, cancel := context.WithCancel(context.Background())
	progress.StartCleanup(ctx, progressCleanupTick, progressMaxAge)

	app := GetApp()
	if app.cancelBackground != nil {
		app.cancelBackground()
	}
	app.cancelBackground = cancel

	return nil
}

// initLogger 初始化文件日志
func initLogger(logDir string) error {
	debug := false
	if instance != nil && instance.config != nil {
		debug = instance.config.DebugMode
	}
	return utils.InitLogger(logDir, debug)
}

// Run 启动HTTP服务器并阻塞到收到停止信号
func Run() error {
	app := GetApp()
	if app.server == nil {
		return errors.New("应用尚未初始化")
	}

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(app.stopChan)

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("🌐 服务器监听端口 %s", app.config.Port)
		if err := app.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		app.cleanup()
		return fmt.Errorf("服务器启动失败: %w", err)
	case sig := <-app.stopChan:
		log.Printf("🛑 收到信号 %v，正在关闭服务器...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		log.Printf("❌ 服务器强制关闭: %v", err)
	}

	app.cleanup()
	log.Println("✅ 服务器已安全关闭")
	return nil
}

// cleanup 释放容器中的服务资源
func (a *App) cleanup() {
	container := di.GetContainer()

	if a.cancelBackground != nil {
		a.cancelBackground()
		a.cancelBackground = nil
	}

	if ws, err := di.Resolve[*api.WebSocketHandler](container, di.ServiceWebSocket); err == nil {
		ws.Close()
	}

	if story, err := di.Resolve[*services.StoryService](container, di.ServiceStory); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := story.Shutdown(ctx); err != nil {
			log.Printf("⚠️ 等待后台生成任务超时: %v", err)
		}
		cancel()
	}

	if images, err := di.Resolve[*imagegen.Client](container, di.ServiceImages); err == nil {
		images.Close()
	}

	if err := utils.GetLogger().Close(); err != nil {
		log.Printf("⚠️ 关闭日志文件失败: %v", err)
	}
}

// GetConfig 获取应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// Router 返回已构建的路由
func (a *App) Router() http.Handler {
	return a.router
}

// GetDIContainer 获取依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 检查是否处于调试模式
func IsDebugMode() bool {
	if instance == nil || instance.config == nil {
		return false
	}
	return instance.config.DebugMode
}
