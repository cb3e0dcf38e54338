// internal/api/error_codes.go
package api

import apperrors "github.com/Meow711/story-generator-ui/internal/errors"

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorTimeout       = "TIMEOUT"

	// 会话相关错误
	ErrorSessionNotFound  = apperrors.CodeSessionNotFound
	ErrorTaskNotFound     = "TASK_NOT_FOUND"
	ErrorGenerationBusy   = apperrors.CodeGenerationInFlight
	ErrorPlanNotGenerated = apperrors.CodePlanNotGenerated

	// 生成相关错误
	ErrorGenerationFailed = "GENERATION_FAILED"
	ErrorImageJobFailed   = "IMAGE_JOB_FAILED"

	// 聊天相关错误
	ErrorContactNotFound = apperrors.CodeContactNotFound
	ErrorNoCurrentUser   = apperrors.CodeNoCurrentContact

	// 配置相关
	ErrorConfigNotLoaded = "CONFIG_NOT_LOADED"
)

// 客户端可见的固定错误文案
const (
	MessagePromptRequired  = "Prompt is required"
	MessageImageJobFailure = "An error occurred while generating the image"
)
