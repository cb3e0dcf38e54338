// internal/wizard/session.go
package wizard

import (
	"fmt"
	"sync"
	"time"

	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
)

// Field 可编辑字段
type Field string

const (
	FieldUserPremise Field = "user_premise"
	FieldTitle       Field = "title"
	FieldPremise     Field = "premise"
)

// Stage 字段可编辑的阶段
func (f Field) Stage() (Stage, bool) {
	switch f {
	case FieldUserPremise:
		return StagePremise, true
	case FieldTitle, FieldPremise:
		return StagePremiseReview, true
	default:
		return 0, false
	}
}

func (f Field) action(value string) Action {
	switch f {
	case FieldTitle:
		return SetTitle{Value: value}
	case FieldPremise:
		return SetPremise{Value: value}
	default:
		return SetUserPremise{Value: value}
	}
}

// Ticket 一次生成调用的凭证。
// 完成时令牌不匹配（期间发生了重启或会话被删除）的结果会被丢弃。
type Ticket struct {
	Token uint64
	Stage Stage
	State State // 发起时的状态快照，作为生成输入
}

// Session 持有一个向导状态，是写入状态的唯一入口
type Session struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	state     State
	drafts    map[Field]string
	inFlight  bool
	token     uint64
	lastError string
	updatedAt time.Time
}

// View 会话对外展示的快照
type View struct {
	ID          string           `json:"id"`
	State       State            `json:"state"`
	Stage       string           `json:"stage"`
	Progress    int              `json:"progress"`
	ButtonLabel string           `json:"button_label"`
	CanAdvance  bool             `json:"can_advance"`
	InFlight    bool             `json:"in_flight"`
	Error       string           `json:"error,omitempty"`
	Drafts      map[Field]string `json:"drafts,omitempty"`
	Editable    []Field          `json:"editable"`
	StoryLines  []string         `json:"story_lines,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// NewSession 创建处于初始状态的会话
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		CreatedAt: now,
		state:     NewState(),
		drafts:    make(map[Field]string),
		updatedAt: now,
	}
}

// State 当前状态副本
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// InFlight 是否有生成调用进行中
func (s *Session) InFlight() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight
}

// Dispatch 应用一个动作
func (s *Session) Dispatch(action Action) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(action)
	return s.state
}

func (s *Session) apply(action Action) {
	s.state = Reduce(s.state, action)
	s.updatedAt = time.Now()
}

// SetDraft 暂存字段编辑，失焦时才提交到状态
func (s *Session) SetDraft(field Field, value string) error {
	stage, ok := field.Stage()
	if !ok {
		return apperrors.NewValidationError(fmt.Sprintf("未知字段: %s", field), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.CurrentStage != stage {
		return apperrors.NewConflictError(fmt.Sprintf("字段 %s 在当前阶段不可编辑", field), nil)
	}
	s.drafts[field] = value
	return nil
}

// Blur 提交字段的暂存编辑，没有暂存内容时不做任何事
func (s *Session) Blur(field Field) (State, error) {
	if _, ok := field.Stage(); !ok {
		return State{}, apperrors.NewValidationError(fmt.Sprintf("未知字段: %s", field), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.drafts[field]
	if !ok {
		return s.state, nil
	}
	delete(s.drafts, field)
	s.apply(field.action(value))
	return s.state, nil
}

// BeginGeneration 标记一次生成开始。
// 已有生成进行中、最后阶段或第一阶段前提为空时拒绝。
func (s *Session) BeginGeneration() (Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return Ticket{}, apperrors.NewConflictError("已有生成任务进行中", nil).WithCode(apperrors.CodeGenerationInFlight)
	}
	if s.state.CurrentStage == StageStoryReview {
		return Ticket{}, apperrors.NewConflictError("故事已生成，只能重新开始", nil)
	}
	if !s.state.CanAdvance() {
		return Ticket{}, apperrors.NewValidationError("前提不能为空", nil)
	}

	s.inFlight = true
	s.lastError = ""
	s.updatedAt = time.Now()
	return Ticket{Token: s.token, Stage: s.state.CurrentStage, State: s.state}, nil
}

// CompleteGeneration 用生成结果推进状态，令牌过期时丢弃结果并返回 false
func (s *Session) CompleteGeneration(ticket Ticket, action Action) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.Token != s.token {
		return s.state, false
	}
	s.inFlight = false
	s.apply(action)
	return s.state, true
}

// FailGeneration 记录失败信息，阶段保持不变
func (s *Session) FailGeneration(ticket Ticket, message string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket.Token != s.token {
		return false
	}
	s.inFlight = false
	s.lastError = message
	s.updatedAt = time.Now()
	return true
}

// Restart 完整重置，进行中的生成结果将被丢弃
func (s *Session) Restart() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token++
	s.inFlight = false
	s.lastError = ""
	s.drafts = make(map[Field]string)
	s.apply(Restart{})
	return s.state
}

// Invalidate 使所有进行中的生成失效，会话被删除时调用
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	s.inFlight = false
}

// Token 当前生成令牌
func (s *Session) Token() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// View 生成展示快照
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()

	view := View{
		ID:          s.ID,
		State:       s.state,
		Stage:       s.state.CurrentStage.String(),
		Progress:    s.state.Progress(),
		ButtonLabel: s.state.ButtonLabel(s.inFlight),
		CanAdvance:  !s.inFlight && s.state.CanAdvance(),
		InFlight:    s.inFlight,
		Error:       s.lastError,
		Editable:    editableFields(s.state.CurrentStage),
		StoryLines:  s.state.StoryLines(),
		UpdatedAt:   s.updatedAt,
	}
	if len(s.drafts) > 0 {
		view.Drafts = make(map[Field]string, len(s.drafts))
		for k, v := range s.drafts {
			view.Drafts[k] = v
		}
	}
	return view
}

func editableFields(stage Stage) []Field {
	switch stage {
	case StagePremise:
		return []Field{FieldUserPremise}
	case StagePremiseReview:
		return []Field{FieldTitle, FieldPremise}
	default:
		return []Field{}
	}
}
