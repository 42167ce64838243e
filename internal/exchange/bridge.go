package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/newplayman/krakenws/internal/metrics"
)

// closeWait 是发送关闭帧的写超时
const closeWait = time.Second

type pumpResult struct {
	pump string
	err  error
}

// AttachStream 连接 class 对应的端点，并发运行两个泵直到任意一方结束：
//   - 出站泵：按入队顺序把 rx 中的消息写为文本帧；通道关闭时发送关闭帧后正常结束。
//   - 入站泵：逐帧读取并同步交给 h。
//
// 先结束的一方会取消另一方，之后不再发送或投递任何消息。rx 归本会话所有，返回时关闭。
// 连接失败时直接返回错误，不会调用 h；不做重连。
func (c *Client) AttachStream(ctx context.Context, h Handler, class StreamClass, rx *Receiver) error {
	if h == nil {
		return fmt.Errorf("handler required")
	}
	if rx == nil {
		return fmt.Errorf("receiver required")
	}
	defer rx.Close()

	s := c.newSession(ModeBridge, class, h, ReadPolicyContinue)
	return c.run(ctx, s, func(ctx context.Context, conn *websocket.Conn) error {
		return s.runBridge(ctx, conn, rx)
	})
}

func (s *session) runBridge(ctx context.Context, conn *websocket.Conn, rx *Receiver) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan pumpResult, 2)
	go func() {
		results <- pumpResult{pump: "outbound", err: s.outboundPump(ctx, conn, rx)}
	}()
	go func() {
		results <- pumpResult{pump: "inbound", err: s.inboundPump(ctx, conn)}
	}()

	first := <-results
	s.closing.Store(true)
	cancel()
	_ = conn.Close()
	<-results

	s.log.Debug().Str("pump", first.pump).Err(first.err).Msg("泵结束，会话收尾")
	return first.err
}

func (s *session) outboundPump(ctx context.Context, conn *websocket.Conn, rx *Receiver) error {
	defer metrics.UpdateQueueLength(s.name, 0)
	for {
		metrics.UpdateQueueLength(s.name, rx.Len())
		msg, err := rx.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				s.closing.Store(true)
				s.log.Info().Msg("出站通道已关闭")
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(closeWait))
			}
			return nil
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			if ctx.Err() != nil || s.closing.Load() {
				return nil
			}
			metrics.RecordError("ws_write", s.name)
			s.log.Error().Err(err).Msg("ws write err")
			return fmt.Errorf("ws write: %w", err)
		}
		metrics.RecordWSMessage(s.name, "outbound", len(msg))
	}
}
