// internal/generator/generator.go
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Meow711/story-generator-ui/internal/config"
	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/Meow711/story-generator-ui/internal/models"
	"github.com/Meow711/story-generator-ui/internal/storage"
	"github.com/Meow711/story-generator-ui/internal/utils"
)

// Stage 生成阶段，决定调用哪个外部脚本以及读取哪个输出文件
type Stage string

const (
	StagePremise Stage = "premise"
	StagePlan    Stage = "plan"
	StageStory   Stage = "story"
)

// OutputDir 脚本输出目录（相对于脚本根目录）
const OutputDir = "output"

// OutputFile 阶段对应的输出文件名
func (s Stage) OutputFile() string {
	switch s {
	case StagePremise:
		return "premise.json"
	case StagePlan:
		return "plan.json"
	case StageStory:
		return "story.txt"
	default:
		return ""
	}
}

// IsJSON 输出是否为JSON
func (s Stage) IsJSON() bool {
	return s == StagePremise || s == StagePlan
}

// FailureMessage 返回给客户端的通用错误信息
func (s Stage) FailureMessage() string {
	return fmt.Sprintf("Failed to generate %s", s)
}

// Config 生成脚本运行配置
type Config struct {
	ScriptRoot string
	PythonBin  string
	InputMode  string        // file: 脚本自行读取上一阶段输出; request: 参数以JSON写入stdin
	Timeout    time.Duration // 0 不限制
}

// ConfigFrom 从应用配置构造
func ConfigFrom(cfg *config.AppConfig) Config {
	return Config{
		ScriptRoot: cfg.ScriptRootPath,
		PythonBin:  cfg.PythonBin,
		InputMode:  cfg.InputMode,
		Timeout:    cfg.GenerationTimeout,
	}
}

// Runner 调用外部生成脚本并回读其输出文件，调用之间不保存任何状态
type Runner struct {
	cfg     Config
	files   *storage.FileStorage
	metrics *utils.AppMetrics
	logger  *utils.Logger
}

// NewRunner 创建生成脚本运行器
func NewRunner(cfg Config) *Runner {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python"
	}
	if cfg.ScriptRoot == "" {
		cfg.ScriptRoot = "/"
	}
	if cfg.InputMode == "" {
		cfg.InputMode = config.InputModeFile
	}
	return &Runner{
		cfg:    cfg,
		files:  storage.NewFileStorage(cfg.ScriptRoot),
		logger: utils.GetLogger(),
	}
}

// WithMetrics 记录每个阶段的调用次数、失败次数与耗时
func (r *Runner) WithMetrics(m *utils.AppMetrics) *Runner {
	r.metrics = m
	return r
}

// ScriptPath 阶段脚本的完整路径
func (r *Runner) ScriptPath(stage Stage) string {
	return filepath.Join(r.cfg.ScriptRoot, string(stage), "generate.py")
}

// Generate 运行阶段脚本，返回输出文件的原始内容。
// JSON阶段的输出保证是合法JSON。
func (r *Runner) Generate(ctx context.Context, stage Stage, input *models.GenerationInput) ([]byte, error) {
	if stage.OutputFile() == "" {
		return nil, apperrors.NewValidationError(fmt.Sprintf("未知的生成阶段: %s", stage), nil)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	var output []byte

	// 输出文件每次都会被覆盖，脚本运行与回读必须在同一把锁内完成
	err := r.files.WithFileLock(OutputDir, stage.OutputFile(), func() error {
		if err := r.execute(ctx, stage, input); err != nil {
			return err
		}

		content, err := r.files.ReadTextFile(OutputDir, stage.OutputFile())
		if err != nil {
			return apperrors.NewOutputParseError("无法读取生成结果", err)
		}
		if stage.IsJSON() && !json.Valid(content) {
			return apperrors.NewOutputParseError("生成结果不是合法的JSON", nil)
		}
		output = content
		return nil
	})

	if r.metrics != nil {
		r.metrics.RecordGeneration(string(stage), time.Since(start), err)
	}
	if err != nil {
		r.logger.Error("生成脚本执行失败", map[string]interface{}{
			"stage": string(stage),
			"error": err.Error(),
		})
		return nil, err
	}

	r.logger.Debug("生成脚本执行完成", map[string]interface{}{
		"stage":    string(stage),
		"bytes":    len(output),
		"duration": time.Since(start).Milliseconds(),
	})
	return output, nil
}

func (r *Runner) execute(ctx context.Context, stage Stage, input *models.GenerationInput) error {
	cmd := exec.CommandContext(ctx, r.cfg.PythonBin, r.ScriptPath(stage))
	cmd.Dir = r.cfg.ScriptRoot
	cmd.WaitDelay = 2 * time.Second

	if r.cfg.InputMode == config.InputModeRequest && input != nil {
		payload, err := json.Marshal(input)
		if err != nil {
			return apperrors.NewGenerationExecutionError("序列化生成参数失败", err)
		}
		cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	// 脚本向错误流输出任何内容都视为失败
	if errText := strings.TrimSpace(stderr.String()); errText != "" {
		r.logger.Warn("生成脚本错误输出", map[string]interface{}{
			"stage":  string(stage),
			"stderr": errText,
		})
		return apperrors.NewGenerationExecutionError("生成脚本报告了错误", runErr)
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return apperrors.NewTimeoutError("生成脚本执行超时或被取消", ctx.Err())
		}
		return apperrors.NewGenerationExecutionError("生成脚本异常退出", runErr)
	}
	return nil
}

// Premise 生成标题与前提
func (r *Runner) Premise(ctx context.Context, userPremise string) (*models.PremiseResult, error) {
	raw, err := r.Generate(ctx, StagePremise, &models.GenerationInput{UserPremise: userPremise})
	if err != nil {
		return nil, err
	}

	var result models.PremiseResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apperrors.NewOutputParseError("无法解析前提结果", err)
	}
	if err := result.Validate(); err != nil {
		return nil, apperrors.NewOutputParseError("前提结果缺少字段", err)
	}
	return &result, nil
}

// Plan 根据标题与前提生成计划
func (r *Runner) Plan(ctx context.Context, title, premise string) (*models.Plan, error) {
	raw, err := r.Generate(ctx, StagePlan, &models.GenerationInput{Title: title, Premise: premise})
	if err != nil {
		return nil, err
	}

	var plan models.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, apperrors.NewOutputParseError("无法解析计划结果", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, apperrors.NewOutputParseError("计划结果不合法", err)
	}
	return &plan, nil
}

// Story 生成完整故事
func (r *Runner) Story(ctx context.Context) (string, error) {
	raw, err := r.Generate(ctx, StageStory, nil)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
