// internal/services/story_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Meow711/story-generator-ui/internal/chat"
	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/Meow711/story-generator-ui/internal/models"
	"github.com/Meow711/story-generator-ui/internal/outline"
	"github.com/Meow711/story-generator-ui/internal/utils"
	"github.com/Meow711/story-generator-ui/internal/wizard"
	"github.com/google/uuid"
)

// 会话事件类型
const (
	EventSessionUpdated = "session_updated"
	EventCoverUpdated   = "cover_updated"
	EventAvatarsUpdated = "avatars_updated"
	EventChatUpdated    = "chat_updated"
	EventSessionDeleted = "session_deleted"
)

// StageGenerator 三个文本生成阶段
type StageGenerator interface {
	Premise(ctx context.Context, userPremise string) (*models.PremiseResult, error)
	Plan(ctx context.Context, title, premise string) (*models.Plan, error)
	Story(ctx context.Context) (string, error)
}

// CoverState 封面生成状态
type CoverState struct {
	URL     string `json:"url,omitempty"`
	Pending bool   `json:"pending"`
	Error   string `json:"error,omitempty"`
}

// SessionEntry 一个向导会话及其附属的聊天与封面状态
type SessionEntry struct {
	Session *wizard.Session
	Chat    *chat.Chat

	coverMu sync.RWMutex
	cover   CoverState
}

// Cover 封面状态副本
func (e *SessionEntry) Cover() CoverState {
	e.coverMu.RLock()
	defer e.coverMu.RUnlock()
	return e.cover
}

func (e *SessionEntry) setCover(c CoverState) {
	e.coverMu.Lock()
	defer e.coverMu.Unlock()
	e.cover = c
}

// SessionView 会话完整视图
type SessionView struct {
	wizard.View
	Cover CoverState `json:"cover"`
	Chat  chat.State `json:"chat"`
}

// SessionEvent 推送给订阅者的会话事件
type SessionEvent struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// StoryService 管理向导会话，驱动阶段生成并维护封面与角色头像
type StoryService struct {
	generator StageGenerator
	images    chat.ImageGenerator
	progress  *ProgressService
	locks     *LockManager
	metrics   *utils.AppMetrics
	logger    *utils.Logger

	mu       sync.RWMutex
	sessions map[string]*SessionEntry

	listenersMu sync.RWMutex
	listeners   []func(SessionEvent)

	AvatarConcurrency int
	AutoCover         bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// NewStoryService 创建故事向导服务
func NewStoryService(generator StageGenerator, images chat.ImageGenerator, progress *ProgressService) *StoryService {
	if progress == nil {
		progress = NewProgressService()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &StoryService{
		generator:         generator,
		images:            images,
		progress:          progress,
		locks:             NewLockManager(),
		metrics:           utils.NewAppMetrics(),
		logger:            utils.GetLogger(),
		sessions:          make(map[string]*SessionEntry),
		AvatarConcurrency: chat.DefaultAvatarConcurrency,
		AutoCover:         true,
		bgCtx:             ctx,
		bgCancel:          cancel,
	}
}

// WithMetrics 替换指标记录器
func (s *StoryService) WithMetrics(m *utils.AppMetrics) *StoryService {
	s.metrics = m
	return s
}

// Progress 进度服务
func (s *StoryService) Progress() *ProgressService {
	return s.progress
}

// Subscribe 注册会话事件监听器
func (s *StoryService) Subscribe(fn func(SessionEvent)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *StoryService) publish(eventType, sessionID string, data interface{}) {
	s.listenersMu.RLock()
	listeners := make([]func(SessionEvent), len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.RUnlock()

	event := SessionEvent{Type: eventType, SessionID: sessionID, Data: data, Timestamp: time.Now()}
	for _, fn := range listeners {
		fn(event)
	}
}

// CreateSession 创建处于初始状态的会话
func (s *StoryService) CreateSession() SessionView {
	entry := &SessionEntry{
		Session: wizard.NewSession(uuid.NewString()),
		Chat:    chat.New(),
	}

	s.mu.Lock()
	s.sessions[entry.Session.ID] = entry
	count := len(s.sessions)
	s.mu.Unlock()

	s.metrics.Collector().SetGauge("wizard_sessions", int64(count))
	s.logger.Info("创建向导会话", map[string]interface{}{"session_id": entry.Session.ID})
	return s.viewOf(entry)
}

// GetSession 获取会话
func (s *StoryService) GetSession(id string) (*SessionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", id), nil).WithCode(apperrors.CodeSessionNotFound)
	}
	return entry, nil
}

// DeleteSession 删除会话，进行中的生成结果将被丢弃
func (s *StoryService) DeleteSession(id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("会话不存在: %s", id), nil).WithCode(apperrors.CodeSessionNotFound)
	}

	entry.Session.Invalidate()
	s.locks.Forget(id)
	s.metrics.Collector().SetGauge("wizard_sessions", int64(count))
	s.publish(EventSessionDeleted, id, nil)
	return nil
}

// SessionCount 会话数量
func (s *StoryService) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// View 会话视图
func (s *StoryService) View(id string) (SessionView, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return SessionView{}, err
	}
	return s.viewOf(entry), nil
}

func (s *StoryService) viewOf(entry *SessionEntry) SessionView {
	return SessionView{
		View:  entry.Session.View(),
		Cover: entry.Cover(),
		Chat:  entry.Chat.Snapshot(),
	}
}

// SetDraft 暂存字段编辑
func (s *StoryService) SetDraft(id string, field wizard.Field, value string) error {
	entry, err := s.GetSession(id)
	if err != nil {
		return err
	}
	return entry.Session.SetDraft(field, value)
}

// Blur 提交字段编辑
func (s *StoryService) Blur(id string, field wizard.Field) (SessionView, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return SessionView{}, err
	}
	if _, err := entry.Session.Blur(field); err != nil {
		return SessionView{}, err
	}
	view := s.viewOf(entry)
	s.publish(EventSessionUpdated, id, view)
	return view, nil
}

// Advance 同步推进一个阶段；最后阶段时等同于重新开始
func (s *StoryService) Advance(ctx context.Context, id string) (SessionView, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return SessionView{}, err
	}
	if entry.Session.State().CurrentStage == wizard.StageStoryReview {
		return s.Restart(id)
	}

	ticket, err := entry.Session.BeginGeneration()
	if err != nil {
		return SessionView{}, err
	}
	s.publish(EventSessionUpdated, id, s.viewOf(entry))

	genCtx, release := s.detach(ctx)
	defer release()

	err = s.runGeneration(genCtx, entry, ticket)
	return s.viewOf(entry), err
}

// detach 生成任务不随请求断开而取消，只在服务关闭时取消
func (s *StoryService) detach(ctx context.Context) (context.Context, func()) {
	s.bg.Add(1)
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(s.bgCtx, cancel)
	return genCtx, func() {
		stop()
		cancel()
		s.bg.Done()
	}
}

// AdvanceAsync 在后台推进一个阶段，返回可订阅进度的任务ID
func (s *StoryService) AdvanceAsync(id string) (string, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return "", err
	}
	if entry.Session.State().CurrentStage == wizard.StageStoryReview {
		return "", apperrors.NewConflictError("故事已生成，只能重新开始", nil)
	}

	ticket, err := entry.Session.BeginGeneration()
	if err != nil {
		return "", err
	}
	s.publish(EventSessionUpdated, id, s.viewOf(entry))

	taskID := uuid.NewString()
	tracker := s.progress.CreateTracker(taskID, id)
	tracker.UpdateProgress(10, fmt.Sprintf("正在生成 %s", stageOutput(ticket.Stage)))

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.runGeneration(s.bgCtx, entry, ticket); err != nil {
			tracker.Fail(clientMessage(ticket.Stage, err))
			return
		}
		tracker.Complete(fmt.Sprintf("%s 已生成", stageOutput(ticket.Stage)))
	}()

	return taskID, nil
}

// runGeneration 调用阶段生成并在令牌仍然有效时提交结果
func (s *StoryService) runGeneration(ctx context.Context, entry *SessionEntry, ticket wizard.Ticket) error {
	id := entry.Session.ID
	start := time.Now()

	var (
		action wizard.Action
		plan   *models.Plan
		err    error
	)

	switch ticket.Stage {
	case wizard.StagePremise:
		var result *models.PremiseResult
		result, err = s.generator.Premise(ctx, ticket.State.UserPremise)
		if err == nil {
			action = wizard.PremiseGenerated{Result: *result}
		}
	case wizard.StagePremiseReview:
		plan, err = s.generator.Plan(ctx, ticket.State.Title, ticket.State.Premise)
		if err == nil {
			action = wizard.PlanGenerated{Plan: plan}
		}
	case wizard.StagePlanReview:
		var story string
		story, err = s.generator.Story(ctx)
		if err == nil {
			action = wizard.StoryGenerated{Story: story}
		}
	default:
		err = apperrors.NewConflictError("当前阶段没有可执行的生成", nil)
	}

	if err != nil {
		s.metrics.RecordError(string(apperrors.TypeOf(err)), "wizard")
		if entry.Session.FailGeneration(ticket, clientMessage(ticket.Stage, err)) {
			s.publish(EventSessionUpdated, id, s.viewOf(entry))
		}
		return err
	}

	applied := false
	_ = s.locks.ExecuteWithSessionLock(id, func() error {
		_, applied = entry.Session.CompleteGeneration(ticket, action)
		if applied && plan != nil {
			return entry.Chat.SeedFromEntities(plan.Entities)
		}
		return nil
	})

	if !applied {
		s.metrics.Collector().IncrementCounter("wizard_stale_results")
		s.logger.Warn("会话已重置，丢弃过期的生成结果", map[string]interface{}{
			"session_id": id,
			"stage":      ticket.Stage.String(),
		})
		return apperrors.NewConflictError("会话已重置，生成结果已丢弃", nil)
	}

	s.metrics.Collector().IncrementCounter("wizard_advances")
	s.logger.Info("向导阶段完成", map[string]interface{}{
		"session_id": id,
		"stage":      ticket.Stage.String(),
		"duration":   time.Since(start).Milliseconds(),
	})
	s.publish(EventSessionUpdated, id, s.viewOf(entry))

	switch ticket.Stage {
	case wizard.StagePremise:
		if s.AutoCover && s.images != nil {
			s.startCover(entry, ticket.Token)
		}
	case wizard.StagePremiseReview:
		if s.images != nil {
			s.startAvatars(entry, ticket.Token)
		}
	}
	return nil
}

// Restart 完整重置会话，包括聊天与封面
func (s *StoryService) Restart(id string) (SessionView, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return SessionView{}, err
	}

	_ = s.locks.ExecuteWithSessionLock(id, func() error {
		entry.Session.Restart()
		entry.Chat.Reset()
		entry.setCover(CoverState{})
		return nil
	})

	s.metrics.Collector().IncrementCounter("wizard_restarts")
	view := s.viewOf(entry)
	s.publish(EventSessionUpdated, id, view)
	return view, nil
}

// GenerateCover 根据当前前提同步生成封面
func (s *StoryService) GenerateCover(ctx context.Context, id string) (CoverState, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return CoverState{}, err
	}
	if s.images == nil {
		return CoverState{}, apperrors.NewProcessingError("图像服务不可用", nil)
	}

	state := entry.Session.State()
	if state.CurrentStage < wizard.StagePremiseReview || state.Premise == "" {
		return CoverState{}, apperrors.NewConflictError("生成前提之后才能生成封面", nil)
	}

	coverCtx, release := s.detach(ctx)
	defer release()
	return s.generateCover(coverCtx, entry, entry.Session.Token(), state.Premise)
}

func (s *StoryService) startCover(entry *SessionEntry, token uint64) {
	premise := entry.Session.State().Premise
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		_, _ = s.generateCover(s.bgCtx, entry, token, premise)
	}()
}

func (s *StoryService) generateCover(ctx context.Context, entry *SessionEntry, token uint64, prompt string) (CoverState, error) {
	_ = s.locks.ExecuteWithSessionLock(entry.Session.ID, func() error {
		if entry.Session.Token() == token {
			entry.setCover(CoverState{Pending: true})
		}
		return nil
	})

	url, err := s.images.Generate(ctx, prompt)

	result := CoverState{URL: url}
	if err != nil {
		result = CoverState{Error: "An error occurred while generating the image"}
	}

	applied := false
	_ = s.locks.ExecuteWithSessionLock(entry.Session.ID, func() error {
		if entry.Session.Token() == token {
			entry.setCover(result)
			applied = true
		}
		return nil
	})

	if !applied {
		return CoverState{}, apperrors.NewConflictError("会话已重置，封面结果已丢弃", nil)
	}
	s.publish(EventCoverUpdated, entry.Session.ID, result)
	return result, err
}

// startAvatars 计划到达后为每个角色生成头像，全部结束后一次合并
func (s *StoryService) startAvatars(entry *SessionEntry, token uint64) {
	users := entry.Chat.Users()
	if len(users) == 0 {
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		updated := chat.GenerateAvatars(s.bgCtx, s.images, users, s.AvatarConcurrency)

		applied := false
		_ = s.locks.ExecuteWithSessionLock(entry.Session.ID, func() error {
			if entry.Session.Token() == token {
				entry.Chat.MergeAvatars(updated)
				applied = true
			}
			return nil
		})
		if applied {
			s.publish(EventAvatarsUpdated, entry.Session.ID, entry.Chat.Users())
		}
	}()
}

// Outline 大纲视图，头像与描述取自聊天联系人
func (s *StoryService) Outline(id string, expand outline.ExpandSet) (outline.NodeView, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return outline.NodeView{}, err
	}
	plan := entry.Session.State().Plan
	if plan == nil {
		return outline.NodeView{}, apperrors.NewConflictError("计划尚未生成", nil).WithCode(apperrors.CodePlanNotGenerated)
	}
	return outline.Render(plan.Outline, entry.Chat.Users(), expand), nil
}

// PlanTree 计划的通用JSON树
func (s *StoryService) PlanTree(id string) (*outline.TreeNode, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	plan := entry.Session.State().Plan
	if plan == nil {
		return nil, apperrors.NewConflictError("计划尚未生成", nil).WithCode(apperrors.CodePlanNotGenerated)
	}

	value, err := outline.FromAny(plan)
	if err != nil {
		return nil, apperrors.NewProcessingError("无法构建计划树", err)
	}
	return outline.BuildTree("plan", value), nil
}

// Chat 会话的聊天状态
func (s *StoryService) Chat(id string) (*chat.Chat, error) {
	entry, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	return entry.Chat, nil
}

// NotifyChat 聊天状态变化后推送
func (s *StoryService) NotifyChat(id string) {
	if entry, err := s.GetSession(id); err == nil {
		s.publish(EventChatUpdated, id, entry.Chat.Snapshot())
	}
}

// Wait 等待所有后台任务结束
func (s *StoryService) Wait() {
	s.bg.Wait()
}

// Shutdown 取消后台任务并等待其结束
func (s *StoryService) Shutdown(ctx context.Context) error {
	s.bgCancel()

	done := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stageOutput(stage wizard.Stage) string {
	switch stage {
	case wizard.StagePremise:
		return "premise"
	case wizard.StagePremiseReview:
		return "plan"
	case wizard.StagePlanReview:
		return "story"
	default:
		return stage.String()
	}
}

// clientMessage 返回给用户的通用错误信息，不暴露内部细节
func clientMessage(stage wizard.Stage, err error) string {
	if apperrors.IsConflictError(err) || apperrors.IsValidationError(err) {
		return err.Error()
	}
	return fmt.Sprintf("Failed to generate %s", stageOutput(stage))
}
