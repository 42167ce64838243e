package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newplayman/krakenws/internal/metrics"
	"github.com/rs/zerolog/log"
)

// KrakenRESTClient 签名调用 Kraken 私有 REST 接口；HTTPClient 可注入 httptest。
type KrakenRESTClient struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    RateLimiter
	Retry      RetryConfig

	nonce nonceSource
}

// NewKrakenRESTClient 默认 10s 超时，签名调用按调用计数器限速（每秒一次）。
func NewKrakenRESTClient(baseURL, apiKey, secret string) *KrakenRESTClient {
	if baseURL == "" {
		baseURL = KrakenRestEndpoint
	}
	return &KrakenRESTClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		Secret:     secret,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Limiter:    NewCallCounterLimiter(krakenCounterMax, krakenCounterDecay),
		Retry:      DefaultRetryConfig(),
	}
}

// StatusError 非 2xx 响应
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kraken status %d: %s", e.StatusCode, e.Body)
}

// PrivateRaw 调用 /0/private/{method}，返回原始响应体。
func (c *KrakenRESTClient) PrivateRaw(ctx context.Context, method string, form url.Values) ([]byte, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("http client not set")
	}
	if c.APIKey == "" || c.Secret == "" {
		return nil, fmt.Errorf("api key/secret required")
	}
	if form == nil {
		form = url.Values{}
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	nonce := strconv.FormatInt(c.nonce.next(), 10)
	form.Set("nonce", nonce)
	postData := form.Encode()
	path := "/0/private/" + method
	sig, err := SignKraken(path, nonce, postData, c.Secret)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBufferString(postData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("API-Key", c.APIKey)
	req.Header.Set("API-Sign", sig)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		metrics.ObserveREST(method, "error", time.Since(start))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	metrics.ObserveREST(method, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

// GetWebSocketsToken 获取私有 WS 订阅所需的 token。
func (c *KrakenRESTClient) GetWebSocketsToken(ctx context.Context) (string, error) {
	var token string
	err := WithRetry(ctx, func() error {
		body, err := c.PrivateRaw(ctx, "GetWebSocketsToken", nil)
		if err != nil {
			return err
		}
		res, err := ParseTokenResponse(body)
		if err != nil {
			return err
		}
		token = res.Token
		return nil
	}, c.Retry)
	if err != nil {
		var kerr *KrakenError
		if errors.As(err, &kerr) {
			metrics.RecordError(kerr.Type().String(), "rest")
		} else {
			metrics.RecordError("rest", "rest")
		}
		return "", fmt.Errorf("get websockets token: %w", err)
	}
	log.Debug().Msg("WebSocket token 获取成功")
	return token, nil
}
