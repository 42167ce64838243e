package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/newplayman/krakenws/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Mode 区分两种会话：bridge（双向泵）与 legacy（单次发送后只读）。
type Mode int

const (
	ModeBridge Mode = iota
	ModeLegacy
)

func (m Mode) String() string {
	if m == ModeLegacy {
		return "legacy"
	}
	return "bridge"
}

// ReadPolicy 决定无法解码的帧如何处理。传输层读错误总是结束入站循环。
type ReadPolicy int

const (
	// ReadPolicyContinue 记录日志、通过 OnError 通知后继续读取。
	ReadPolicyContinue ReadPolicy = iota
	// ReadPolicyFatal 通过 OnError 通知后结束会话。
	ReadPolicyFatal
)

// Client 建立 Kraken WS 会话。零值不可用，请使用 NewClient。
type Client struct {
	name    string
	dialer  *websocket.Dialer
	header  http.Header
	resolve func(StreamClass) (*url.URL, error)
}

// Option 配置 Client
type Option func(*Client)

// WithName 设置流名称，用于日志与指标标签。
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithDialer 替换默认的 websocket.Dialer（代理、缓冲区等）。
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHeader 设置握手时附带的 HTTP 头。
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithResolver 替换端点解析函数，主要用于测试指向本地服务。
func WithResolver(fn func(StreamClass) (*url.URL, error)) Option {
	return func(c *Client) {
		if fn != nil {
			c.resolve = fn
		}
	}
}

// NewClient 创建客户端
func NewClient(opts ...Option) *Client {
	c := &Client{
		dialer:  websocket.DefaultDialer,
		resolve: ResolveEndpoint,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// session 是一次连接的生命周期：Connecting → Running → Terminated，不会重连。
type session struct {
	mode    Mode
	class   StreamClass
	name    string
	handler Handler
	policy  ReadPolicy
	log     zerolog.Logger

	// closing 在本端主动收尾后置位，此后的读错误不再视为故障。
	closing atomic.Bool
}

func (c *Client) newSession(mode Mode, class StreamClass, h Handler, policy ReadPolicy) *session {
	name := c.name
	if name == "" {
		name = class.String()
	}
	return &session{
		mode:    mode,
		class:   class,
		name:    name,
		handler: h,
		policy:  policy,
		log: log.With().
			Str("component", "session").
			Str("mode", mode.String()).
			Str("stream", name).
			Str("class", class.String()).
			Logger(),
	}
}

// run 拨号并执行 body；连接失败直接返回，不调用 handler。
func (c *Client) run(ctx context.Context, s *session, body func(context.Context, *websocket.Conn) error) error {
	u, err := c.resolve(s.class)
	if err != nil {
		return err
	}
	s.log.Info().Str("url", u.String()).Msg("正在连接...")

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.header)
	if err != nil {
		metrics.RecordError("ws_connect", s.name)
		if resp != nil {
			err = fmt.Errorf("ws dial %s: %s: %w", u, resp.Status, err)
		} else {
			err = fmt.Errorf("ws dial %s: %w", u, err)
		}
		s.log.Error().Err(err).Msg("连接失败")
		return err
	}
	defer conn.Close()

	finish := metrics.SessionStarted(s.mode.String())
	defer finish()
	s.log.Info().Msg("连接成功")

	err = body(ctx, conn)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("会话结束")
	} else {
		s.log.Info().Msg("会话结束")
	}
	return err
}

// inboundPump 逐帧读取并同步调用 handler；handler 返回前不读取下一帧。
func (s *session) inboundPump(ctx context.Context, conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || s.closing.Load() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info().Err(err).Msg("服务端关闭连接")
				return nil
			}
			metrics.RecordError("ws_read", s.name)
			s.log.Error().Err(err).Msg("ws read err")
			s.handler.OnError(err)
			return fmt.Errorf("ws read: %w", err)
		}
		if ctx.Err() != nil || s.closing.Load() {
			return nil
		}
		metrics.RecordWSMessage(s.name, "inbound", len(data))

		if !utf8.Valid(data) {
			ferr := &FrameError{MessageType: msgType, Size: len(data)}
			metrics.RecordError("ws_frame", s.name)
			s.log.Error().Err(ferr).Msg("无法解码的帧")
			s.handler.OnError(ferr)
			if s.policy == ReadPolicyFatal {
				return ferr
			}
			continue
		}
		s.handler.OnMessage(string(data))
	}
}
