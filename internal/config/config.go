// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// 生成脚本输入模式
const (
	// InputModeFile 脚本自行读取上一阶段的输出文件（原始行为）
	InputModeFile = "file"
	// InputModeRequest 请求参数通过标准输入传给脚本
	InputModeRequest = "request"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	StaticDir string `json:"static_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// 图像生成服务
	AIGCKey         string        `json:"-"`
	AIGCBaseURL     string        `json:"aigc_base_url"`
	ImageModel      string        `json:"image_model"`
	ImageJobStyle   string        `json:"image_job_style"`
	PollInterval    time.Duration `json:"poll_interval"`
	PollMaxAttempts int           `json:"poll_max_attempts"`

	// 生成脚本
	ScriptRootPath    string        `json:"script_root_path"`
	PythonBin         string        `json:"python_bin"`
	InputMode         string        `json:"input_mode"`
	GenerationTimeout time.Duration `json:"generation_timeout"`
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port              string
	DataDir           string
	StaticDir         string
	LogDir            string
	DebugMode         bool
	AIGCKey           string
	AIGCBaseURL       string
	ImageModel        string
	ImageJobStyle     string
	PollInterval      time.Duration
	PollMaxAttempts   int
	ScriptRootPath    string
	PythonBin         string
	InputMode         string
	GenerationTimeout time.Duration
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:              getEnv("PORT", "6006"),
		DataDir:           getEnvPath("DATA_DIR", "data"),
		StaticDir:         getEnv("STATIC_DIR", "static"),
		LogDir:            getEnvPath("LOG_DIR", "logs"),
		DebugMode:         getEnvBool("DEBUG_MODE", true),
		AIGCKey:           getEnv("AIGC_KEY", "dev_user"),
		AIGCBaseURL:       getEnv("AIGC_BASE_URL", "https://aigc.tokenso.com/api/aigc"),
		ImageModel:        getEnv("AIGC_MODEL", "FLUX"),
		ImageJobStyle:     getEnv("AIGC_JOB_STYLE", "normal"),
		PollInterval:      time.Duration(getEnvInt("POLL_INTERVAL_MS", 3000)) * time.Millisecond,
		PollMaxAttempts:   getEnvInt("POLL_MAX_ATTEMPTS", 0),
		ScriptRootPath:    getEnv("SCRIPT_ROOT_PATH", "/"),
		PythonBin:         getEnv("PYTHON_BIN", "python"),
		InputMode:         getEnv("GENERATION_INPUT_MODE", InputModeFile),
		GenerationTimeout: time.Duration(getEnvInt("GENERATION_TIMEOUT_SEC", 0)) * time.Second,
	}

	if config.InputMode != InputModeFile && config.InputMode != InputModeRequest {
		return nil, fmt.Errorf("无效的 GENERATION_INPUT_MODE: %s", config.InputMode)
	}

	if config.AIGCKey == "dev_user" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置 AIGC_KEY，图像生成将使用 dev_user")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量，解析失败时返回默认值
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		log.Printf("警告: 环境变量 %s=%q 不是有效的非负整数，使用默认值 %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func fromBase(base *Config) *AppConfig {
	return &AppConfig{
		Port:              base.Port,
		DataDir:           base.DataDir,
		StaticDir:         base.StaticDir,
		LogDir:            base.LogDir,
		DebugMode:         base.DebugMode,
		AIGCKey:           base.AIGCKey,
		AIGCBaseURL:       base.AIGCBaseURL,
		ImageModel:        base.ImageModel,
		ImageJobStyle:     base.ImageJobStyle,
		PollInterval:      base.PollInterval,
		PollMaxAttempts:   base.PollMaxAttempts,
		ScriptRootPath:    base.ScriptRootPath,
		PythonBin:         base.PythonBin,
		InputMode:         base.InputMode,
		GenerationTimeout: base.GenerationTimeout,
	}
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = fromBase(baseConfig)

	// 尝试从文件加载已保存的配置，只保留可在设置页面修改的图像参数
	if data, err := os.ReadFile(configFile); err == nil {
		var savedConfig AppConfig
		if json.Unmarshal(data, &savedConfig) == nil {
			if savedConfig.ImageModel != "" {
				currentConfig.ImageModel = savedConfig.ImageModel
			}
			if savedConfig.ImageJobStyle != "" {
				currentConfig.ImageJobStyle = savedConfig.ImageJobStyle
			}
		}
	}

	return saveConfigLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，直接使用环境变量
		baseConfig, err := Load()
		if err != nil {
			baseConfig = &Config{Port: "6006", InputMode: InputModeFile, ScriptRootPath: "/", PythonBin: "python"}
		}
		return fromBase(baseConfig)
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateImageConfig 更新图像生成模型与风格
func UpdateImageConfig(model, jobStyle string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	if model != "" {
		currentConfig.ImageModel = model
	}
	if jobStyle != "" {
		currentConfig.ImageJobStyle = jobStyle
	}

	return saveConfigLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	dir := filepath.Dir(configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
