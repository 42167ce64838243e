package gateway

import (
	"context"
	"fmt"
	"runtime"

	"github.com/gorilla/websocket"
	"github.com/newplayman/krakenws/internal/metrics"
)

// LegacyAttach 兼容旧用法：按 payload 内容嗅探公共/私有端点，连接后把 payload 作为首条消息发送一次，
// 然后持续读取并回调 h。任何读错误或无法解码的帧都会结束会话（先通过 OnError 通知）。
//
// 会话运行在独占 OS 线程的 worker 上，调用方阻塞直到 worker 退出。
// payload 无法分类时直接返回 ErrUnroutable，不发起连接。
func (c *Client) LegacyAttach(ctx context.Context, h Handler, payload string) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	class := Classify(payload)
	if class == StreamUnroutable {
		return fmt.Errorf("legacy attach: %w", ErrUnroutable)
	}
	s := c.newSession(ModeLegacy, class, h, ReadPolicyFatal)

	errCh := make(chan error, 1)
	go func() {
		// 不解锁：worker 退出时线程一并销毁
		runtime.LockOSThread()
		errCh <- c.run(ctx, s, func(ctx context.Context, conn *websocket.Conn) error {
			return s.runLegacy(ctx, conn, payload)
		})
	}()
	return <-errCh
}

func (s *session) runLegacy(ctx context.Context, conn *websocket.Conn, payload string) error {
	stop := context.AfterFunc(ctx, func() {
		s.closing.Store(true)
		_ = conn.Close()
	})
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		metrics.RecordError("ws_write", s.name)
		return fmt.Errorf("ws write payload: %w", err)
	}
	metrics.RecordWSMessage(s.name, "outbound", len(payload))

	return s.inboundPump(ctx, conn)
}
