// internal/api/response_helpers.go
package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Meow711/story-generator-ui/internal/errors"
	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct{}

// NewResponseHelper 创建响应助手
func NewResponseHelper() *ResponseHelper {
	return &ResponseHelper{}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	}

	c.JSON(http.StatusOK, response)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	if len(message) > 0 {
		response.Message = message[0]
	} else {
		response.Message = "资源创建成功"
	}

	c.JSON(http.StatusCreated, response)
}

// sanitizeErrorMessage 含有密钥类字样的消息整体替换，避免泄露
func sanitizeErrorMessage(message string) string {
	lower := strings.ToLower(message)
	for _, pattern := range []string{"api_key", "x-api-key", "aigc_key", "secret", "token"} {
		if strings.Contains(lower, pattern) {
			return "An internal error occurred"
		}
	}
	return message
}

// Error 错误响应
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	apiError := &APIError{
		Code:    errorCode,
		Message: sanitizeErrorMessage(message),
	}

	if len(details) > 0 {
		apiError.Details = sanitizeErrorMessage(details[0])
	}

	response := &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}

	c.JSON(statusCode, response)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusBadRequest, ErrorBadRequest, message, details...)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, resource string, details ...string) {
	message := resource + "不存在"
	code := ErrorNotFound
	if resource != "" {
		code = rh.getResourceNotFoundCode(resource)
	}
	rh.Error(c, http.StatusNotFound, code, message, details...)
}

// InternalError 500错误响应
func (rh *ResponseHelper) InternalError(c *gin.Context, message string, details ...string) {
	rh.Error(c, http.StatusInternalServerError, ErrorInternalError, message, details...)
}

// FromAppError 按错误类型选择状态码。
// 校验、冲突、未找到类错误的消息面向用户，原样返回；其余只返回通用描述，细节写日志。
func (rh *ResponseHelper) FromAppError(c *gin.Context, err error, fallback string) {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		rh.BadRequest(c, appMessage(err))
	case apperrors.ErrorTypeNotFound:
		rh.Error(c, http.StatusNotFound, errorCode(err, ErrorNotFound), appMessage(err))
	case apperrors.ErrorTypeConflict:
		rh.Error(c, http.StatusConflict, errorCode(err, ErrorConflict), appMessage(err))
	case apperrors.ErrorTypeTimeout:
		log.Printf("❌ 请求超时 [%s]: %v", rh.getRequestID(c), err)
		rh.Error(c, http.StatusGatewayTimeout, ErrorTimeout, fallback)
	case apperrors.ErrorTypeGenerationExecution, apperrors.ErrorTypeOutputParse:
		log.Printf("❌ 生成失败 [%s]: %v", rh.getRequestID(c), err)
		rh.Error(c, http.StatusInternalServerError, ErrorGenerationFailed, fallback)
	case apperrors.ErrorTypeJobFailed, apperrors.ErrorTypeTransport, apperrors.ErrorTypeRemoteApplication:
		log.Printf("❌ 图像任务失败 [%s]: %v", rh.getRequestID(c), err)
		rh.Error(c, http.StatusInternalServerError, ErrorImageJobFailed, fallback)
	default:
		log.Printf("❌ 请求失败 [%s]: %v", rh.getRequestID(c), err)
		rh.InternalError(c, fallback)
	}
}

// errorCode 只透出已知的业务代码，其余使用 fallback
func errorCode(err error, fallback string) string {
	switch code := apperrors.CodeOf(err); code {
	case ErrorSessionNotFound, ErrorContactNotFound, ErrorGenerationBusy,
		ErrorPlanNotGenerated, ErrorNoCurrentUser:
		return code
	}
	return fallback
}

// appMessage 只取 AppError 自身的消息，不拼接底层错误
func appMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// StreamResponse 流式响应
func (rh *ResponseHelper) StreamResponse(c *gin.Context, contentType string, callback func(writer gin.ResponseWriter) error) {
	c.Header("Content-Type", contentType)
	c.Header("Transfer-Encoding", "chunked")
	c.Header("Cache-Control", "no-cache")

	c.Stream(func(w io.Writer) bool {
		if err := callback(c.Writer); err != nil {
			if !errors.Is(err, errStreamDone) {
				log.Printf("流式响应错误: %v", err)
			}
			return false
		}
		return true
	})
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	if requestID := c.GetString("request_id"); requestID != "" {
		return requestID
	}
	return ""
}

// getResourceNotFoundCode 根据资源类型生成错误代码
func (rh *ResponseHelper) getResourceNotFoundCode(resource string) string {
	switch resource {
	case "会话", "session":
		return ErrorSessionNotFound
	case "任务", "task":
		return ErrorTaskNotFound
	case "联系人", "contact":
		return ErrorContactNotFound
	default:
		return "RESOURCE_NOT_FOUND"
	}
}
