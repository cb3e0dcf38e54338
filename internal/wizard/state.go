// internal/wizard/state.go
package wizard

import (
	"strings"

	"github.com/Meow711/story-generator-ui/internal/models"
)

// Stage 向导阶段
type Stage int

const (
	StagePremise       Stage = 1
	StagePremiseReview Stage = 2
	StagePlanReview    Stage = 3
	StageStoryReview   Stage = 4
)

// TotalStages 阶段总数，用于进度计算
const TotalStages = 4

// SeedPremise 新会话的默认前提
const SeedPremise = "A young man named Alex wakes up one morning to find that he has the ability to read minds."

// String 阶段名称
func (s Stage) String() string {
	switch s {
	case StagePremise:
		return "premise"
	case StagePremiseReview:
		return "premise_review"
	case StagePlanReview:
		return "plan_review"
	case StageStoryReview:
		return "story_review"
	default:
		return "unknown"
	}
}

// State 向导的唯一数据源。
// 阶段N的产出字段当且仅当 CurrentStage > N 时存在。
type State struct {
	CurrentStage Stage        `json:"current_stage"`
	UserPremise  string       `json:"user_premise"`
	Title        string       `json:"title"`
	Premise      string       `json:"premise"`
	Plan         *models.Plan `json:"plan,omitempty"`
	FullStory    string       `json:"full_story"`
}

// NewState 初始状态：第一阶段，除种子前提外所有字段为空
func NewState() State {
	return State{
		CurrentStage: StagePremise,
		UserPremise:  SeedPremise,
	}
}

// Action 状态转换动作
type Action interface {
	isAction()
}

// SetUserPremise 编辑用户前提，仅在第一阶段有效
type SetUserPremise struct{ Value string }

// SetTitle 编辑生成的标题，仅在第二阶段有效
type SetTitle struct{ Value string }

// SetPremise 编辑生成的前提，仅在第二阶段有效
type SetPremise struct{ Value string }

// PremiseGenerated 前提生成成功，进入第二阶段
type PremiseGenerated struct{ Result models.PremiseResult }

// PlanGenerated 计划生成成功，进入第三阶段
type PlanGenerated struct{ Plan *models.Plan }

// StoryGenerated 故事生成成功，进入第四阶段
type StoryGenerated struct{ Story string }

// Restart 完整重置
type Restart struct{}

func (SetUserPremise) isAction()   {}
func (SetTitle) isAction()         {}
func (SetPremise) isAction()       {}
func (PremiseGenerated) isAction() {}
func (PlanGenerated) isAction()    {}
func (StoryGenerated) isAction()   {}
func (Restart) isAction()          {}

// Reduce 纯状态转换函数，不合时宜的动作原样返回状态
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case SetUserPremise:
		if state.CurrentStage != StagePremise {
			return state
		}
		state.UserPremise = a.Value
	case SetTitle:
		if state.CurrentStage != StagePremiseReview {
			return state
		}
		state.Title = a.Value
	case SetPremise:
		if state.CurrentStage != StagePremiseReview {
			return state
		}
		state.Premise = a.Value
	case PremiseGenerated:
		if state.CurrentStage != StagePremise {
			return state
		}
		state.Title = a.Result.Title
		state.Premise = a.Result.Premise
		state.CurrentStage = StagePremiseReview
	case PlanGenerated:
		if state.CurrentStage != StagePremiseReview || a.Plan == nil {
			return state
		}
		state.Plan = a.Plan
		state.CurrentStage = StagePlanReview
	case StoryGenerated:
		if state.CurrentStage != StagePlanReview {
			return state
		}
		state.FullStory = a.Story
		state.CurrentStage = StageStoryReview
	case Restart:
		return NewState()
	}
	return state
}

// Progress 进度百分比
func (s State) Progress() int {
	return int(s.CurrentStage) * 100 / TotalStages
}

// CanAdvance 是否允许向前推进（不考虑进行中的生成）
func (s State) CanAdvance() bool {
	if s.CurrentStage == StagePremise {
		return s.UserPremise != ""
	}
	return true
}

// ButtonLabel 推进按钮文字
func (s State) ButtonLabel(inFlight bool) string {
	switch {
	case inFlight:
		return "Executing..."
	case s.CurrentStage == StagePremise:
		return "Start"
	case s.CurrentStage == StageStoryReview:
		return "Restart"
	default:
		return "Continue"
	}
}

// StoryLines 按行拆分完整故事
func (s State) StoryLines() []string {
	if s.FullStory == "" {
		return nil
	}
	return strings.Split(s.FullStory, "\n")
}
