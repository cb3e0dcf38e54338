// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 外部调用错误类型
	ErrorTypeTransport           ErrorType = "transport_error"
	ErrorTypeRemoteApplication   ErrorType = "remote_application_error"
	ErrorTypeJobFailed           ErrorType = "job_failed"
	ErrorTypeGenerationExecution ErrorType = "generation_execution_error"
	ErrorTypeOutputParse         ErrorType = "output_parse_error"
)

// 比错误类型更具体的业务错误代码
const (
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeContactNotFound    = "CONTACT_NOT_FOUND"
	CodeGenerationInFlight = "GENERATION_IN_FLIGHT"
	CodePlanNotGenerated   = "PLAN_NOT_GENERATED"
	CodeNoCurrentContact   = "NO_CURRENT_CONTACT"
)

// DefaultJobFailureReason 远端未给出原因时使用的通用描述
const DefaultJobFailureReason = "图像生成任务失败"

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// WithCode 设置业务错误代码
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewTransportError HTTP调用失败或返回非2xx
func NewTransportError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTransport, message, originalError)
}

// NewRemoteApplicationError 响应信封中 code != 0
func NewRemoteApplicationError(code int, msg string) *AppError {
	if msg == "" {
		msg = "Unknown error occurred"
	}
	return NewAppError(ErrorTypeRemoteApplication, fmt.Sprintf("远端返回错误码 %d: %s", code, msg), nil)
}

// NewJobFailedError 任务进入非成功的终止状态，Message 即远端给出的原因
func NewJobFailedError(reason string) *AppError {
	if reason == "" {
		reason = DefaultJobFailureReason
	}
	return NewAppError(ErrorTypeJobFailed, reason, nil)
}

// NewGenerationExecutionError 外部生成脚本执行出错
func NewGenerationExecutionError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeGenerationExecution, message, originalError)
}

// NewOutputParseError 输出文件缺失、不可读或格式错误
func NewOutputParseError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeOutputParse, message, originalError)
}

// TypeOf 返回错误链中第一个 AppError 的类型，非 AppError 返回空串
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// CodeOf 返回错误链中第一个 AppError 的代码
func CodeOf(err error) string {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Code
	}
	return ""
}

// Is 检查错误链中是否包含指定类型的 AppError
func Is(err error, errType ErrorType) bool {
	return TypeOf(err) == errType
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return Is(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return Is(err, ErrorTypeNotFound)
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return Is(err, ErrorTypeConflict)
}

// IsJobFailedError 检查是否为任务失败错误
func IsJobFailedError(err error) bool {
	return Is(err, ErrorTypeJobFailed)
}

// JobFailureReason 取出任务失败原因
func JobFailureReason(err error) string {
	var appError *AppError
	if errors.As(err, &appError) && appError.Type == ErrorTypeJobFailed {
		return appError.Message
	}
	return ""
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeTransport:
		return "TRANSPORT_ERROR"
	case ErrorTypeRemoteApplication:
		return "REMOTE_APPLICATION_ERROR"
	case ErrorTypeJobFailed:
		return "JOB_FAILED"
	case ErrorTypeGenerationExecution:
		return "GENERATION_EXECUTION_ERROR"
	case ErrorTypeOutputParse:
		return "OUTPUT_PARSE_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
