package gateway

import (
	"strings"
)

// KrakenError 封装 Kraken REST 响应中的 error 数组，例如 ["EAPI:Invalid nonce"]。
type KrakenError struct {
	Messages []string
}

func (e *KrakenError) Error() string {
	if len(e.Messages) == 0 {
		return "kraken: unknown error"
	}
	return "kraken: " + strings.Join(e.Messages, "; ")
}

// Type 返回第一条错误的分类
func (e *KrakenError) Type() ErrorType {
	if len(e.Messages) == 0 {
		return ErrorTypeUnknown
	}
	return ClassifyKrakenError(e.Messages[0])
}

// ClassifyKrakenError 按 Kraken 错误前缀分类
func ClassifyKrakenError(msg string) ErrorType {
	switch {
	case strings.HasPrefix(msg, "EAPI:Invalid key"),
		strings.HasPrefix(msg, "EAPI:Invalid signature"),
		strings.HasPrefix(msg, "EAPI:Invalid nonce"),
		strings.HasPrefix(msg, "EGeneral:Permission denied"):
		return ErrorTypeAuth
	case strings.HasPrefix(msg, "EAPI:Rate limit exceeded"),
		strings.HasPrefix(msg, "EGeneral:Temporary lockout"):
		return ErrorTypeRateLimit
	case strings.HasPrefix(msg, "EService:"),
		strings.HasPrefix(msg, "EGeneral:Internal error"):
		return ErrorTypeServer
	case strings.HasPrefix(msg, "EGeneral:"), strings.HasPrefix(msg, "EAPI:"):
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}

// ClassifyStatus 按 HTTP 状态码分类
func ClassifyStatus(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 500:
		return ErrorTypeServer
	case statusCode >= 400:
		return ErrorTypeClient
	default:
		return ErrorTypeUnknown
	}
}

// ErrorType 错误类型
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeAuth
	ErrorTypeRateLimit
	ErrorTypeServer
	ErrorTypeClient
)

// String 返回错误类型字符串
func (e ErrorType) String() string {
	switch e {
	case ErrorTypeAuth:
		return "auth_error"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeServer:
		return "server_error"
	case ErrorTypeClient:
		return "client_error"
	default:
		return "unknown"
	}
}

// IsRetriable 判断错误是否可重试
func (e ErrorType) IsRetriable() bool {
	switch e {
	case ErrorTypeRateLimit, ErrorTypeServer:
		return true
	default:
		return false
	}
}
