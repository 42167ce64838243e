package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// tokenField 是按 `"` 切分后 token 值所在的下标，
// 对应 {"error":[],"result":{"token":"...","expires":...}} 这一固定字段顺序。
const tokenField = 7

// ExtractToken 按位置从原始响应中取出 token；不含 "token" 时返回空串。
// 依赖上游字段顺序，字段重排会静默返回错误字段。新代码请用 ParseTokenResponse。
func ExtractToken(payload string) string {
	if !strings.Contains(payload, "token") {
		return ""
	}
	chunks := strings.Split(payload, `"`)
	if len(chunks) <= tokenField {
		return ""
	}
	return chunks[tokenField]
}

// TokenResult 是 GetWebSocketsToken 的 result 字段。
type TokenResult struct {
	Token   string `json:"token"`
	Expires int64  `json:"expires"`
}

type tokenResp struct {
	Error  []string     `json:"error"`
	Result *TokenResult `json:"result"`
}

// ParseTokenResponse 结构化解析 token 响应，error 数组非空时返回 *KrakenError。
func ParseTokenResponse(body []byte) (*TokenResult, error) {
	var tr tokenResp
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if len(tr.Error) > 0 {
		return nil, &KrakenError{Messages: tr.Error}
	}
	if tr.Result == nil || tr.Result.Token == "" {
		return nil, fmt.Errorf("empty token")
	}
	return tr.Result, nil
}
