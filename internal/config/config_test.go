package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func resetConfig() {
	configMutex.Lock()
	currentConfig = nil
	configMutex.Unlock()
}

func TestLoadDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("AIGC_KEY", "")
	t.Setenv("SCRIPT_ROOT_PATH", "")
	t.Setenv("POLL_INTERVAL_MS", "")
	t.Setenv("GENERATION_INPUT_MODE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.AIGCKey != "dev_user" {
		t.Errorf("AIGC_KEY 默认值应为 dev_user，实际为 %s", cfg.AIGCKey)
	}
	if cfg.ScriptRootPath != "/" {
		t.Errorf("SCRIPT_ROOT_PATH 默认值应为 /，实际为 %s", cfg.ScriptRootPath)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Errorf("轮询间隔默认应为 3s，实际为 %v", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 0 {
		t.Errorf("默认不限制轮询次数，实际为 %d", cfg.PollMaxAttempts)
	}
	if cfg.InputMode != InputModeFile {
		t.Errorf("默认输入模式应为 file，实际为 %s", cfg.InputMode)
	}
	if _, err := os.Stat(cfg.LogDir); err != nil {
		t.Errorf("日志目录应该已被创建: %v", err)
	}
}

func TestLoadRejectsUnknownInputMode(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("GENERATION_INPUT_MODE", "stdin")

	if _, err := Load(); err == nil {
		t.Fatal("未知的输入模式应该返回错误")
	}
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("POLL_MAX_ATTEMPTS", "abc")
	if got := getEnvInt("POLL_MAX_ATTEMPTS", 7); got != 7 {
		t.Errorf("无效整数应回退到默认值，实际为 %d", got)
	}
}

func TestInitConfigAndUpdate(t *testing.T) {
	resetConfig()
	defer resetConfig()

	tempDir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(tempDir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(tempDir, "logs"))
	t.Setenv("GENERATION_INPUT_MODE", "")
	t.Setenv("AIGC_KEY", "secret-key")

	if err := InitConfig(tempDir); err != nil {
		t.Fatalf("初始化配置失败: %v", err)
	}

	if err := UpdateImageConfig("SDXL", ""); err != nil {
		t.Fatalf("更新图像配置失败: %v", err)
	}

	cfg := GetCurrentConfig()
	if cfg.ImageModel != "SDXL" {
		t.Errorf("模型应已更新为 SDXL，实际为 %s", cfg.ImageModel)
	}
	if cfg.ImageJobStyle != "normal" {
		t.Errorf("未提供的风格应保持默认值，实际为 %s", cfg.ImageJobStyle)
	}

	data, err := os.ReadFile(filepath.Join(tempDir, "config.json"))
	if err != nil {
		t.Fatalf("配置文件应该已被创建: %v", err)
	}

	var saved map[string]interface{}
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("配置文件不是有效的JSON: %v", err)
	}
	if saved["image_model"] != "SDXL" {
		t.Errorf("配置文件中的模型应为 SDXL，实际为 %v", saved["image_model"])
	}
	for _, v := range saved {
		if v == "secret-key" {
			t.Fatal("API密钥不应写入配置文件")
		}
	}

	// 重新初始化时应保留已保存的图像参数
	if err := InitConfig(tempDir); err != nil {
		t.Fatalf("重新初始化配置失败: %v", err)
	}
	if got := GetCurrentConfig().ImageModel; got != "SDXL" {
		t.Errorf("重新初始化后模型应为 SDXL，实际为 %s", got)
	}
}
