// cmd/server/main.go
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/Meow711/story-generator-ui/internal/app"
	"github.com/Meow711/story-generator-ui/internal/config"
	"github.com/Meow711/story-generator-ui/internal/di"
)

func main() {
	log.Println("🚀 启动故事向导服务器...")

	// 1. 首先加载基础配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", baseConfig.Port)

	// 2. 创建必要的目录
	createDirectories(baseConfig)
	log.Println("✅ 目录结构创建完成")

	// 3. 初始化配置、日志、服务与路由
	if err := app.Initialize(baseConfig.DataDir); err != nil {
		log.Fatalf("❌ 初始化应用失败: %v", err)
	}
	log.Printf("✅ 应用初始化完成，服务数量: %d", len(di.GetContainer().GetNames()))

	// 4. 检查关键服务
	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	log.Printf("🔗 访问地址: http://localhost:%s", baseConfig.Port)
	log.Printf("🐍 生成脚本根目录: %s（输入模式: %s）", baseConfig.ScriptRootPath, baseConfig.InputMode)

	// 5. 启动服务器，收到信号后优雅关闭
	if err := app.Run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

// 健康检查函数
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{di.ServiceStory, di.ServiceGenerator, di.ServiceImages}
	for _, serviceName := range criticalServices {
		if !container.Has(serviceName) {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) {
	dirs := []string{
		cfg.DataDir,
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("创建目录失败 %s: %v", dir, err)
		}
	}
}
