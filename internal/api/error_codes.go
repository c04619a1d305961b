// internal/api/error_codes.go
package api

import (
	"errors"

	apperrors "github.com/Corphon/EvalSheet/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorUnauthorized  = "UNAUTHORIZED"
	ErrorTimeout       = "TIMEOUT"

	// 表格会话相关
	ErrorSessionBusy      = "SESSION_BUSY"
	ErrorCSVInvalid       = "CSV_INVALID"
	ErrorFileUploadFailed = "FILE_UPLOAD_FAILED"
	ErrorExportFailed     = "EXPORT_FAILED"

	// 批处理相关
	ErrorTaskNotFound = "TASK_NOT_FOUND"
	ErrorTaskFinished = "TASK_FINISHED"

	// 上游 LLM 服务
	ErrorUpstreamFailed    = "UPSTREAM_FAILED"
	ErrorUpstreamMalformed = "UPSTREAM_MALFORMED"
)

// errorCodeFor 把应用错误类型映射为 API 错误代码
func errorCodeFor(err error) string {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return ErrorInternalError
	}

	switch appErr.Type {
	case apperrors.ErrorTypeValidation:
		return ErrorBadRequest
	case apperrors.ErrorTypeNotFound:
		return ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return ErrorConflict
	case apperrors.ErrorTypeUnauthorized:
		return ErrorUnauthorized
	case apperrors.ErrorTypeTimeout:
		return ErrorTimeout
	case apperrors.ErrorTypeTransport:
		return ErrorUpstreamFailed
	case apperrors.ErrorTypeMalformed:
		return ErrorUpstreamMalformed
	default:
		return ErrorInternalError
	}
}
