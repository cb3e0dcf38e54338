// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Meow711/story-generator-ui/internal/config"
	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/Meow711/story-generator-ui/internal/generator"
	"github.com/Meow711/story-generator-ui/internal/models"
	"github.com/Meow711/story-generator-ui/internal/services"
	"github.com/Meow711/story-generator-ui/internal/utils"
	"github.com/gin-gonic/gin"
)

// StageRunner 运行一个生成阶段并返回其原始输出
type StageRunner interface {
	Generate(ctx context.Context, stage generator.Stage, input *models.GenerationInput) ([]byte, error)
}

// ImageService 图像生成，可在运行时切换模型与风格
type ImageService interface {
	Generate(ctx context.Context, prompt string) (string, error)
	UpdateStyle(model, jobStyle string)
	Style() (model, jobStyle string)
}

// Handler 处理API请求
type Handler struct {
	StoryService     *services.StoryService    // 向导会话服务
	ProgressService  *services.ProgressService // 进度跟踪服务
	Generator        StageRunner               // 生成脚本代理
	Images           ImageService              // 图像任务代理
	Metrics          *utils.AppMetrics         // 指标
	WebSocketHandler *WebSocketHandler         // WebSocket 处理器
	Response         *ResponseHelper           // 响应助手
	InputMode        string                    // file 模式下忽略代理请求体
	logger           *utils.Logger
}

// GenerateImageRequest 图像生成请求
type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

// SettingsRequest 设置更新请求
type SettingsRequest struct {
	Model    string `json:"model"`
	JobStyle string `json:"job_style"`
}

// NewHandler 创建API处理器
func NewHandler(
	storyService *services.StoryService,
	stageRunner StageRunner,
	images ImageService,
	metrics *utils.AppMetrics) *Handler {

	if metrics == nil {
		metrics = utils.NewAppMetrics()
	}

	return &Handler{
		StoryService:     storyService,
		ProgressService:  storyService.Progress(),
		Generator:        stageRunner,
		Images:           images,
		Metrics:          metrics,
		WebSocketHandler: NewWebSocketHandler(storyService),
		Response:         NewResponseHelper(),
		InputMode:        config.GetCurrentConfig().InputMode,
		logger:           utils.GetLogger(),
	}
}

// ========================================
// 生成代理端点：响应体保持与前端约定的原始格式
// ========================================

// GenerateImage 提交图像任务并等待结果
func (h *Handler) GenerateImage(c *gin.Context) {
	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": MessagePromptRequired})
		return
	}

	url, err := h.Images.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		h.logger.Error("图像生成失败", map[string]interface{}{
			"request_id": c.GetString("request_id"),
			"error":      err.Error(),
			"reason":     apperrors.JobFailureReason(err),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": MessageImageJobFailure})
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": url})
}

// GeneratePremise 运行前提生成脚本，原样返回 premise.json
func (h *Handler) GeneratePremise(c *gin.Context) {
	h.proxyJSONStage(c, generator.StagePremise)
}

// GeneratePlan 运行计划生成脚本，原样返回 plan.json
func (h *Handler) GeneratePlan(c *gin.Context) {
	h.proxyJSONStage(c, generator.StagePlan)
}

// GenerateStory 运行故事生成脚本，返回 {story}
func (h *Handler) GenerateStory(c *gin.Context) {
	output, err := h.runStage(c, generator.StageStory)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"story": string(output)})
}

func (h *Handler) proxyJSONStage(c *gin.Context, stage generator.Stage) {
	output, err := h.runStage(c, stage)
	if err != nil {
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", output)
}

// runStage 失败时已写好响应
func (h *Handler) runStage(c *gin.Context, stage generator.Stage) ([]byte, error) {
	var input *models.GenerationInput
	if h.InputMode == config.InputModeRequest {
		var err error
		if input, err = bindGenerationInput(c); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return nil, err
		}
	}

	output, err := h.Generator.Generate(c.Request.Context(), stage, input)
	if err != nil {
		h.logger.Error("生成脚本执行失败", map[string]interface{}{
			"request_id": c.GetString("request_id"),
			"stage":      string(stage),
			"error":      err.Error(),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": stage.FailureMessage()})
		return nil, err
	}
	return output, nil
}

// bindGenerationInput 请求体可选，空体返回 nil
func bindGenerationInput(c *gin.Context) (*models.GenerationInput, error) {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil, nil
	}
	var input models.GenerationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return &input, nil
}

// ========================================
// 设置、指标、健康检查
// ========================================

// GetSettings 获取可在设置页面修改的图像参数
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	model, jobStyle := h.Images.Style()

	data := map[string]interface{}{
		"model":              model,
		"job_style":          jobStyle,
		"aigc_base_url":      cfg.AIGCBaseURL,
		"has_api_key":        cfg.AIGCKey != "",
		"poll_interval_ms":   cfg.PollInterval.Milliseconds(),
		"poll_max_attempts":  cfg.PollMaxAttempts,
		"input_mode":         cfg.InputMode,
		"generation_timeout": cfg.GenerationTimeout.String(),
		"debug_mode":         cfg.DebugMode,
	}

	h.Response.Success(c, data, "设置获取成功")
}

// SaveSettings 更新图像模型与风格，立即对新任务生效并持久化
func (h *Handler) SaveSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}
	if req.Model == "" && req.JobStyle == "" {
		h.Response.BadRequest(c, "model 与 job_style 至少提供一个")
		return
	}

	h.Images.UpdateStyle(req.Model, req.JobStyle)
	if err := config.UpdateImageConfig(req.Model, req.JobStyle); err != nil {
		h.logger.Warn("设置未能持久化", map[string]interface{}{"error": err.Error()})
		h.Response.Error(c, http.StatusInternalServerError, ErrorConfigNotLoaded, "设置已生效但保存失败")
		return
	}

	model, jobStyle := h.Images.Style()
	h.Response.Success(c, gin.H{"model": model, "job_style": jobStyle}, "设置保存成功")
}

// GetMetrics 指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	data := h.Metrics.Collector().GetMetrics()
	data["sessions"] = h.StoryService.SessionCount()
	data["progress_tasks"] = h.ProgressService.Count()
	data["websocket"] = h.WebSocketHandler.hub.GetStatus()
	h.Response.Success(c, data)
}

// Health 存活检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"sessions":  h.StoryService.SessionCount(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
