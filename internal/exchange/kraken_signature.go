package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// 可覆盖的时间函数，便于测试。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// nonceSource 生成严格递增的毫秒 nonce（同一毫秒内多次请求也递增）。
type nonceSource struct {
	mu   sync.Mutex
	last int64
}

func (n *nonceSource) next() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := timeNowMillis()
	if v <= n.last {
		v = n.last + 1
	}
	n.last = v
	return v
}

// SignKraken 生成 Kraken 私有接口所需的 API-Sign：
// base64(HMAC-SHA512(uriPath + SHA256(nonce + postData), base64decode(secret)))
func SignKraken(uriPath, nonce, postData, secret string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode api secret: %w", err)
	}
	sum := sha256.Sum256([]byte(nonce + postData))
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(uriPath))
	mac.Write(sum[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
