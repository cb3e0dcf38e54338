// internal/api/session_handlers.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Meow711/story-generator-ui/internal/outline"
	"github.com/Meow711/story-generator-ui/internal/services"
	"github.com/Meow711/story-generator-ui/internal/wizard"
	"github.com/gin-gonic/gin"
)

// DraftRequest 暂存字段编辑
type DraftRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

// BlurRequest 提交暂存的字段
type BlurRequest struct {
	Field string `json:"field" binding:"required"`
}

// errStreamDone 进度流正常结束
var errStreamDone = errors.New("stream done")

// ========================================
// 向导会话
// ========================================

// CreateSession 创建向导会话
func (h *Handler) CreateSession(c *gin.Context) {
	view := h.StoryService.CreateSession()
	h.Response.Created(c, view, "会话创建成功")
}

// GetSession 获取会话视图
func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.StoryService.View(c.Param("id"))
	if err != nil {
		h.Response.NotFound(c, "会话", "会话ID: "+c.Param("id"))
		return
	}
	h.Response.Success(c, view)
}

// DeleteSession 删除会话
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.StoryService.DeleteSession(c.Param("id")); err != nil {
		h.Response.NotFound(c, "会话", "会话ID: "+c.Param("id"))
		return
	}
	h.Response.Success(c, nil, "会话已删除")
}

// UpdateDraft 暂存字段编辑，失焦后才写入状态
func (h *Handler) UpdateDraft(c *gin.Context) {
	var req DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	id := c.Param("id")
	if err := h.StoryService.SetDraft(id, wizard.Field(req.Field), req.Value); err != nil {
		h.Response.FromAppError(c, err, "暂存编辑失败")
		return
	}

	view, err := h.StoryService.View(id)
	if err != nil {
		h.Response.FromAppError(c, err, "获取会话失败")
		return
	}
	h.Response.Success(c, view)
}

// BlurField 提交暂存的字段
func (h *Handler) BlurField(c *gin.Context) {
	var req BlurRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求数据", err.Error())
		return
	}

	view, err := h.StoryService.Blur(c.Param("id"), wizard.Field(req.Field))
	if err != nil {
		h.Response.FromAppError(c, err, "提交编辑失败")
		return
	}
	h.Response.Success(c, view)
}

// AdvanceSession 推进一个阶段。async=true 时立即返回任务ID，进度通过 SSE 订阅
func (h *Handler) AdvanceSession(c *gin.Context) {
	id := c.Param("id")

	if c.Query("async") == "true" {
		taskID, err := h.StoryService.AdvanceAsync(id)
		if err != nil {
			h.Response.FromAppError(c, err, "推进失败")
			return
		}
		c.JSON(http.StatusAccepted, &APIResponse{
			Success: true,
			Data: gin.H{
				"task_id":    taskID,
				"session_id": id,
				"progress":   "/api/progress/" + taskID,
			},
			Message:   "生成任务已开始",
			Timestamp: time.Now(),
			RequestID: c.GetString("request_id"),
		})
		return
	}

	view, err := h.StoryService.Advance(c.Request.Context(), id)
	if err != nil {
		fallback := view.Error
		if fallback == "" {
			fallback = "推进失败"
		}
		h.Response.FromAppError(c, err, fallback)
		return
	}
	h.Response.Success(c, view)
}

// RestartSession 完整重置会话
func (h *Handler) RestartSession(c *gin.Context) {
	view, err := h.StoryService.Restart(c.Param("id"))
	if err != nil {
		h.Response.FromAppError(c, err, "重置失败")
		return
	}
	h.Response.Success(c, view, "会话已重置")
}

// GenerateCover 根据当前前提重新生成封面
func (h *Handler) GenerateCover(c *gin.Context) {
	cover, err := h.StoryService.GenerateCover(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.Response.FromAppError(c, err, MessageImageJobFailure)
		return
	}
	h.Response.Success(c, cover)
}

// GetOutline 大纲视图，expand=all 或逗号分隔的节点ID
func (h *Handler) GetOutline(c *gin.Context) {
	view, err := h.StoryService.Outline(c.Param("id"), outline.ParseExpand(c.Query("expand")))
	if err != nil {
		h.Response.FromAppError(c, err, "获取大纲失败")
		return
	}
	h.Response.Success(c, view)
}

// GetPlanTree 计划的通用JSON树
func (h *Handler) GetPlanTree(c *gin.Context) {
	tree, err := h.StoryService.PlanTree(c.Param("id"))
	if err != nil {
		h.Response.FromAppError(c, err, "获取计划树失败")
		return
	}
	h.Response.Success(c, tree)
}

// ========================================
// 进度
// ========================================

// SubscribeProgress 订阅任务进度的SSE端点
func (h *Handler) SubscribeProgress(c *gin.Context) {
	taskID := c.Param("taskID")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务", "任务ID: "+taskID)
		return
	}

	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	updateChan := tracker.Subscribe()
	defer tracker.Unsubscribe(updateChan)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	connected := false
	h.Response.StreamResponse(c, "text/event-stream", func(w gin.ResponseWriter) error {
		if !connected {
			connected = true
			fmt.Fprintf(w, "event: connected\ndata: {\"message\":\"连接已建立\"}\n\n")
			return nil
		}

		select {
		case <-clientGone:
			return errStreamDone
		case update, ok := <-updateChan:
			if !ok {
				return errStreamDone
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(w, "event: progress\ndata: %s\n\n", string(data))

			if update.Status == services.TaskStatusCompleted || update.Status == services.TaskStatusFailed {
				return errStreamDone
			}
		case <-ticker.C:
			fmt.Fprintf(w, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
		}
		return nil
	})
}

// GetProgress 任务进度快照
func (h *Handler) GetProgress(c *gin.Context) {
	tracker, exists := h.ProgressService.GetTracker(c.Param("taskID"))
	if !exists {
		h.Response.NotFound(c, "任务", "任务ID: "+c.Param("taskID"))
		return
	}
	h.Response.Success(c, tracker.Snapshot())
}
