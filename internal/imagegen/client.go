// internal/imagegen/client.go
package imagegen

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Meow711/story-generator-ui/internal/config"
	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/Meow711/story-generator-ui/internal/utils"
	"resty.dev/v3"
)

// 远端任务状态
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
)

// DefaultPollInterval 任务处理中时两次轮询之间的固定间隔
const DefaultPollInterval = 3 * time.Second

// Config 图像任务服务配置
type Config struct {
	BaseURL      string        // 例如 https://aigc.tokenso.com/api/aigc
	APIKey       string        // x-api-key
	Model        string        // FLUX
	JobStyle     string        // normal
	PollInterval time.Duration // 0 使用 DefaultPollInterval
	MaxAttempts  int           // 0 表示不限制轮询次数
	HTTPTimeout  time.Duration // 单次HTTP调用超时，0 不限制
}

// ConfigFrom 从应用配置构造
func ConfigFrom(cfg *config.AppConfig) Config {
	return Config{
		BaseURL:      cfg.AIGCBaseURL,
		APIKey:       cfg.AIGCKey,
		Model:        cfg.ImageModel,
		JobStyle:     cfg.ImageJobStyle,
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.PollMaxAttempts,
		HTTPTimeout:  30 * time.Second,
	}
}

// JobRequest 提交给远端的任务描述
type JobRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	JobType        string `json:"job_type"`
	ImgLink        string `json:"img_link"`
	Priority       int    `json:"priority"`
	Description    string `json:"description"`
	JobStyle       string `json:"job_style"`
	Model          string `json:"model"`
}

// JobOutcome 一次轮询观察到的任务状态
type JobOutcome struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
}

// Done 任务是否已成功结束
func (o JobOutcome) Done() bool {
	return o.Status == StatusSuccess
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type submitData struct {
	JobID string `json:"job_id"`
}

type statusData struct {
	JobStatus string   `json:"job_status"`
	Results   []string `json:"results"`
	Reason    string   `json:"reason"`
}

// Client 把"提交任务、轮询直到结束"的远端协议转换为一次可等待的调用
type Client struct {
	styleMu sync.RWMutex
	cfg     Config
	http    *resty.Client
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *utils.AppMetrics
	logger  *utils.Logger
}

// NewClient 创建图像任务客户端
func NewClient(cfg Config) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Model == "" {
		cfg.Model = "FLUX"
	}
	if cfg.JobStyle == "" {
		cfg.JobStyle = "normal"
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("x-api-key", cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	if cfg.HTTPTimeout > 0 {
		httpClient.SetTimeout(cfg.HTTPTimeout)
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		sleep:  sleepContext,
		logger: utils.GetLogger(),
	}
}

// WithMetrics 记录每个任务的轮询次数与耗时
func (c *Client) WithMetrics(m *utils.AppMetrics) *Client {
	c.metrics = m
	return c
}

// Close 释放底层HTTP连接
func (c *Client) Close() error {
	return c.http.Close()
}

// UpdateStyle 运行时切换模型与风格，空值保持不变
func (c *Client) UpdateStyle(model, jobStyle string) {
	c.styleMu.Lock()
	defer c.styleMu.Unlock()
	if model != "" {
		c.cfg.Model = model
	}
	if jobStyle != "" {
		c.cfg.JobStyle = jobStyle
	}
}

// Style 当前模型与风格
func (c *Client) Style() (model, jobStyle string) {
	c.styleMu.RLock()
	defer c.styleMu.RUnlock()
	return c.cfg.Model, c.cfg.JobStyle
}

// NewJobRequest 按配置构造文生图任务
func (c *Client) NewJobRequest(prompt string) JobRequest {
	model, jobStyle := c.Style()
	return JobRequest{
		Prompt:   prompt,
		JobType:  "text2img",
		Priority: 1,
		JobStyle: jobStyle,
		Model:    model,
	}
}

// Submit 提交任务，返回远端任务ID
func (c *Client) Submit(ctx context.Context, req JobRequest) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/job")
	if err != nil {
		return "", apperrors.NewTransportError("提交图像任务失败", err)
	}
	if !resp.IsSuccess() {
		return "", apperrors.NewTransportError(fmt.Sprintf("提交图像任务返回HTTP %d", resp.StatusCode()), nil)
	}

	var data submitData
	if err := decodeEnvelope(resp.Bytes(), &data); err != nil {
		return "", err
	}
	if data.JobID == "" {
		return "", apperrors.NewRemoteApplicationError(0, "响应中缺少 job_id")
	}

	c.logger.Debug("图像任务已提交", map[string]interface{}{"job_id": data.JobID})
	return data.JobID, nil
}

// Poll 查询一次任务状态。
// processing 返回状态由调用方等待后重试，success 返回第一个结果，其他状态返回 JobFailed 错误。
func (c *Client) Poll(ctx context.Context, jobID string) (JobOutcome, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("job_id", jobID).
		Get("/job/status")
	if err != nil {
		return JobOutcome{}, apperrors.NewTransportError("查询任务状态失败", err)
	}
	if !resp.IsSuccess() {
		return JobOutcome{}, apperrors.NewTransportError(fmt.Sprintf("查询任务状态返回HTTP %d", resp.StatusCode()), nil)
	}

	var data statusData
	if err := decodeEnvelope(resp.Bytes(), &data); err != nil {
		return JobOutcome{}, err
	}

	outcome := JobOutcome{JobID: jobID, Status: data.JobStatus}
	switch data.JobStatus {
	case StatusSuccess:
		if len(data.Results) == 0 {
			return outcome, apperrors.NewJobFailedError("任务成功但没有返回结果")
		}
		outcome.Result = data.Results[0]
		return outcome, nil
	case StatusProcessing:
		return outcome, nil
	default:
		return outcome, apperrors.NewJobFailedError(data.Reason)
	}
}

// Run 提交任务并按固定间隔轮询直到终止状态，这是外部调用的唯一入口
func (c *Client) Run(ctx context.Context, req JobRequest) (string, error) {
	start := time.Now()
	polls := 0

	result, err := c.run(ctx, req, &polls)

	if c.metrics != nil {
		c.metrics.RecordImageJob(polls, time.Since(start), err)
	}
	if err != nil {
		c.logger.Error("图像任务失败", map[string]interface{}{
			"polls": polls,
			"error": err.Error(),
		})
	}
	return result, err
}

// Generate 用提示词运行一次文生图任务
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.Run(ctx, c.NewJobRequest(prompt))
}

func (c *Client) run(ctx context.Context, req JobRequest, polls *int) (string, error) {
	jobID, err := c.Submit(ctx, req)
	if err != nil {
		return "", err
	}

	for {
		outcome, err := c.Poll(ctx, jobID)
		*polls++
		if err != nil {
			return "", err
		}
		if outcome.Done() {
			return outcome.Result, nil
		}

		if c.cfg.MaxAttempts > 0 && *polls >= c.cfg.MaxAttempts {
			return "", apperrors.NewTimeoutError(
				fmt.Sprintf("任务 %s 在 %d 次轮询后仍未完成", jobID, *polls), nil)
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return "", apperrors.NewTimeoutError("等待任务结果时被取消", err)
		}
	}
}

func decodeEnvelope(body []byte, data interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apperrors.NewTransportError("无法解析远端响应", err)
	}
	if env.Code != 0 {
		return apperrors.NewRemoteApplicationError(env.Code, env.Msg)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return apperrors.NewRemoteApplicationError(env.Code, "响应中缺少 data")
	}
	if err := json.Unmarshal(env.Data, data); err != nil {
		return apperrors.NewTransportError("无法解析远端响应数据", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
