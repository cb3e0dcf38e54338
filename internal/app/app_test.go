package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/Meow711/story-generator-ui/internal/config"
	"github.com/Meow711/story-generator-ui/internal/di"
	"github.com/Meow711/story-generator-ui/internal/services"
	"github.com/Meow711/story-generator-ui/internal/utils"
)

// 测试前的设置工作
func setupTest(t *testing.T) string {
	t.Helper()
	instance = nil
	di.GetContainer().Clear()

	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("STATIC_DIR", filepath.Join(tempDir, "static"))
	t.Setenv("AIGC_KEY", "sk-app-test")

	t.Cleanup(func() {
		if instance != nil {
			instance.cleanup()
		}
		di.GetContainer().Clear()
		instance = nil
	})
	return tempDir
}

// 测试创建模拟服务器
type mockServer struct {
	ShutdownCalled bool
}

func (m *mockServer) ListenAndServe() error {
	return nil
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.ShutdownCalled = true
	return nil
}

// TestGetApp 测试获取应用实例
func TestGetApp(t *testing.T) {
	instance = nil
	defer func() { instance = nil }()

	app1 := GetApp()
	if app1 == nil {
		t.Fatal("GetApp应该返回一个非nil的应用实例")
	}

	app2 := GetApp()
	if app1 != app2 {
		t.Fatal("GetApp应该返回相同的实例")
	}

	if app1.stopChan == nil {
		t.Fatal("应用实例的stopChan应该被初始化")
	}
}

// TestInitialize 测试应用初始化
func TestInitialize(t *testing.T) {
	tempDir := setupTest(t)
	dataDir := filepath.Join(tempDir, "data")

	if err := Initialize(dataDir); err != nil {
		t.Fatalf("初始化应用失败: %v", err)
	}

	app := GetApp()
	if app.config == nil {
		t.Fatal("应用配置应该已被设置")
	}
	if app.router == nil {
		t.Fatal("应用路由应该已被设置")
	}
	if app.server == nil {
		t.Fatal("HTTP服务器应该已被创建")
	}

	if _, err := os.Stat(filepath.Join(dataDir, "config.json")); os.IsNotExist(err) {
		t.Error("配置文件应该已被创建")
	}

	if _, err := os.Stat(filepath.Join(tempDir, "logs", utils.LogFileName)); os.IsNotExist(err) {
		t.Error("应该已创建日志文件")
	}

	container := GetDIContainer()
	for _, name := range []string{
		di.ServiceMetrics, di.ServiceImages, di.ServiceGenerator,
		di.ServiceProgress, di.ServiceStory, di.ServiceWebSocket,
	} {
		if !container.Has(name) {
			t.Errorf("服务 %s 应该已被注册", name)
		}
	}

	// 路由可以直接处理请求
	rec := httptest.NewRecorder()
	app.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("健康检查应返回200，实际 %d", rec.Code)
	}
}

// TestInitServicesWiresStoryService 测试服务之间的依赖关系
func TestInitServicesWiresStoryService(t *testing.T) {
	tempDir := setupTest(t)
	if err := config.InitConfig(filepath.Join(tempDir, "data")); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	if err := InitServices(); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}

	container := GetDIContainer()
	story, err := di.Resolve[*services.StoryService](container, di.ServiceStory)
	if err != nil {
		t.Fatalf("故事服务应可解析: %v", err)
	}
	progress, err := di.Resolve[*services.ProgressService](container, di.ServiceProgress)
	if err != nil {
		t.Fatalf("进度服务应可解析: %v", err)
	}
	if story.Progress() != progress {
		t.Error("故事服务应共享容器中的进度服务")
	}

	view := story.CreateSession()
	if view.ID == "" || story.SessionCount() != 1 {
		t.Error("新建会话应被记录")
	}
}

// TestInitLogger 测试日志初始化
func TestInitLogger(t *testing.T) {
	tempDir := setupTest(t)
	logDir := filepath.Join(tempDir, "custom_logs")

	if err := initLogger(logDir); err != nil {
		t.Fatalf("初始化日志系统失败: %v", err)
	}

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		t.Error("日志目录应该已被创建")
	}

	utils.GetLogger().Info("logger test", nil)
	if _, err := os.Stat(filepath.Join(logDir, utils.LogFileName)); os.IsNotExist(err) {
		t.Error("写入后应该已创建日志文件")
	}
}

// TestRun 测试应用运行和关闭
func TestRun(t *testing.T) {
	setupTest(t)

	testApp := &App{
		config:   &config.AppConfig{Port: "8081"},
		stopChan: make(chan os.Signal, 1),
	}
	instance = testApp

	mockSrv := &mockServer{}
	testApp.server = mockSrv

	go func() {
		time.Sleep(100 * time.Millisecond)
		testApp.stopChan <- syscall.SIGTERM
	}()

	if err := Run(); err != nil {
		t.Fatalf("运行应用失败: %v", err)
	}

	if !mockSrv.ShutdownCalled {
		t.Error("应该调用了server.Shutdown")
	}
}

// TestRunWithoutInitialize 测试未初始化时运行
func TestRunWithoutInitialize(t *testing.T) {
	setupTest(t)
	instance = &App{stopChan: make(chan os.Signal, 1)}

	if err := Run(); err == nil {
		t.Error("未初始化时Run应返回错误")
	}
}

// TestCleanup 测试资源清理
func TestCleanup(t *testing.T) {
	tempDir := setupTest(t)
	if err := config.InitConfig(filepath.Join(tempDir, "data")); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}
	if err := InitServices(); err != nil {
		t.Fatalf("初始化服务失败: %v", err)
	}

	app := GetApp()
	if app.cancelBackground == nil {
		t.Fatal("后台清理任务应该已启动")
	}

	app.cleanup()

	if app.cancelBackground != nil {
		t.Error("清理后应取消后台任务")
	}
	// 重复清理不应出错
	app.cleanup()
}

// TestGetConfig 测试获取应用配置
func TestGetConfig(t *testing.T) {
	setupTest(t)

	testConfig := &config.AppConfig{Port: "9000", DebugMode: true}
	testApp := &App{config: testConfig}
	instance = testApp

	if testApp.GetConfig() != testConfig {
		t.Error("GetConfig应该返回应用的配置")
	}
}

// TestGetDIContainer 测试获取依赖注入容器
func TestGetDIContainer(t *testing.T) {
	container := GetDIContainer()
	if container == nil {
		t.Fatal("GetDIContainer应该返回一个非nil的容器")
	}
	if container != di.GetContainer() {
		t.Error("应该返回相同的DI容器实例")
	}
}

// TestIsDebugMode 测试调试模式检查
func TestIsDebugMode(t *testing.T) {
	setupTest(t)

	instance = nil
	if IsDebugMode() {
		t.Error("无应用实例时IsDebugMode应该返回false")
	}

	testApp := &App{}
	instance = testApp
	if IsDebugMode() {
		t.Error("应用无配置时IsDebugMode应该返回false")
	}

	testApp.config = &config.AppConfig{DebugMode: true}
	if !IsDebugMode() {
		t.Error("调试模式开启时IsDebugMode应该返回true")
	}

	testApp.config.DebugMode = false
	if IsDebugMode() {
		t.Error("调试模式关闭时IsDebugMode应该返回false")
	}
}
