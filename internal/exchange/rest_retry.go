package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxRetries int           // 最大重试次数
	BaseDelay  time.Duration // 基础延迟
	MaxDelay   time.Duration // 最大延迟
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

// WithRetry 使用指数退避策略执行函数，ctx 取消时立即返回
func WithRetry(ctx context.Context, fn func() error, cfg RetryConfig) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()

		// 成功，直接返回
		if lastErr == nil {
			return nil
		}

		// 检查是否可重试
		if !isRetryableError(lastErr) {
			return lastErr
		}

		// 如果还有重试机会，等待后重试
		if attempt < cfg.MaxRetries {
			delay := calculateBackoff(attempt, cfg.BaseDelay, cfg.MaxDelay)
			log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("delay", delay).Msg("请求失败，稍后重试")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// calculateBackoff 计算指数退避延迟
func calculateBackoff(attempt int, baseDelay, maxDelay time.Duration) time.Duration {
	// 指数退避: baseDelay * 2^attempt
	delay := baseDelay * time.Duration(1<<uint(attempt))

	// 限制最大延迟
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

// isRetryableError 判断错误是否可重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var kerr *KrakenError
	if errors.As(err, &kerr) {
		return kerr.Type().IsRetriable()
	}
	var serr *StatusError
	if errors.As(err, &serr) {
		return ClassifyStatus(serr.StatusCode).IsRetriable()
	}

	errLower := strings.ToLower(err.Error())

	// 以下错误不可重试（凭证/签名问题）
	nonRetryablePatterns := []string{
		"api key/secret required",
		"decode api secret",
		"http client not set",
		"decode token response",
		"empty token",
	}
	for _, pattern := range nonRetryablePatterns {
		if strings.Contains(errLower, pattern) {
			return false
		}
	}

	// 网络相关错误默认可重试
	return true
}
