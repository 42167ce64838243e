package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Kraken endpoints
const (
	KrakenPublicWSEndpoint  = "wss://ws.kraken.com"
	KrakenPrivateWSEndpoint = "wss://ws-auth.kraken.com"
	KrakenRestEndpoint      = "https://api.kraken.com"
)

// StreamClass 决定连接公共还是私有端点。
type StreamClass int

const (
	StreamPublic StreamClass = iota
	StreamPrivate
	// StreamUnroutable 仅由 Classify 返回：payload 不含任何已知事件关键字。
	StreamUnroutable
)

// ErrUnroutable 表示无法为该 payload/class 选择端点。
var ErrUnroutable = errors.New("stream class unroutable")

// String 返回 class 字符串
func (c StreamClass) String() string {
	switch c {
	case StreamPublic:
		return "public"
	case StreamPrivate:
		return "private"
	default:
		return "unroutable"
	}
}

// ParseStreamClass 解析 "public" / "private"（大小写不敏感）。
func ParseStreamClass(s string) (StreamClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "public":
		return StreamPublic, nil
	case "private":
		return StreamPrivate, nil
	default:
		return StreamUnroutable, fmt.Errorf("unknown stream class %q: %w", s, ErrUnroutable)
	}
}

// ResolveEndpoint 根据 class 返回 WS 端点；每次连接都重新计算，不缓存。
func ResolveEndpoint(class StreamClass) (*url.URL, error) {
	var raw string
	switch class {
	case StreamPublic:
		raw = KrakenPublicWSEndpoint
	case StreamPrivate:
		raw = KrakenPrivateWSEndpoint
	default:
		return nil, fmt.Errorf("resolve endpoint for %s: %w", class, ErrUnroutable)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %s: %w", raw, err)
	}
	return u, nil
}

var (
	publicEvents  = []string{"ping", "trade", "book", "ticker", "spread", "ohlc"}
	privateEvents = []string{"ownTrades", "openOrders", "addOrder", "cancelOrder", "cancelAll", "cancelAllOrdersAfter"}
)

// Classify 通过关键字嗅探 payload 属于哪个流；公共关键字优先。
func Classify(payload string) StreamClass {
	for _, kw := range publicEvents {
		if strings.Contains(payload, kw) {
			return StreamPublic
		}
	}
	for _, kw := range privateEvents {
		if strings.Contains(payload, kw) {
			return StreamPrivate
		}
	}
	return StreamUnroutable
}
