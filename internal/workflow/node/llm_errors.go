package node

import (
	"context"
	"errors"
	"strings"
)

// IsResponseFormatUnsupportedError 判断 provider 是否拒绝了 response_format=json_schema
func IsResponseFormatUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "response_format"):
		return true
	case strings.Contains(msg, "json_schema"):
		return true
	case strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "response"):
		return true
	case strings.Contains(msg, "response_schema"):
		return true
	default:
		return false
	}
}

// IsRetryableBackendError 上下文取消/超时不重试，其余后端错误交给重试预算处理
func IsRetryableBackendError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid api key"), strings.Contains(msg, "incorrect api key"):
		return false
	case strings.Contains(msg, "status code: 401"), strings.Contains(msg, "status code: 403"):
		return false
	default:
		return true
	}
}
