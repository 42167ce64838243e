package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/newplayman/krakenws/internal/config"
	gateway "github.com/newplayman/krakenws/internal/exchange"
	"github.com/newplayman/krakenws/internal/watchdog"
	"github.com/rs/zerolog/log"
)

// Streamer 是 gateway.Client 的会话接口，测试中可替换。
type Streamer interface {
	AttachStream(ctx context.Context, h gateway.Handler, class gateway.StreamClass, rx *gateway.Receiver) error
	LegacyAttach(ctx context.Context, h gateway.Handler, payload string) error
}

// OutputFunc 接收某条流的入站消息（错误已渲染为 {"error":"..."}）。
type OutputFunc func(stream, data string)

// Runner 按配置为每条流启动一个会话，流结束后不重连。
type Runner struct {
	cfg       *config.Config
	newClient func(name string) Streamer
	tracker   *watchdog.Tracker
	output    OutputFunc

	wg           sync.WaitGroup
	cancel       context.CancelFunc
	legacyCancel context.CancelFunc
	senders      map[string]*gateway.Sender
	done         chan struct{}
	started      bool
	stopped      bool
	mu           sync.Mutex
}

// NewRunner 创建Runner实例；newClient 为空时按 global 配置创建 gateway.Client。
func NewRunner(cfg *config.Config, newClient func(name string) Streamer, tracker *watchdog.Tracker, output OutputFunc) *Runner {
	if newClient == nil {
		opts := ClientOptions(cfg)
		newClient = func(name string) Streamer {
			return gateway.NewClient(append([]gateway.Option{gateway.WithName(name)}, opts...)...)
		}
	}
	if tracker == nil {
		tracker = watchdog.NewTracker()
	}
	if output == nil {
		output = func(stream, data string) {
			log.Info().Str("stream", stream).Msg(data)
		}
	}
	return &Runner{
		cfg:       cfg,
		newClient: newClient,
		tracker:   tracker,
		output:    output,
		senders:   make(map[string]*gateway.Sender),
		done:      make(chan struct{}),
	}
}

// Start 启动所有流；token 用于替换 payload 中的 {{token}}。
func (r *Runner) Start(ctx context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("runner已停止，无法重新启动")
	}
	if r.started {
		return fmt.Errorf("runner已启动")
	}
	if len(r.cfg.Streams) == 0 {
		return fmt.Errorf("未配置任何流")
	}

	// 先校验并准备全部流，避免部分启动
	type launch struct {
		name  string
		mode  string
		count int
		run   func(ctx, legacyCtx context.Context, h gateway.Handler) error
	}
	launches := make([]launch, 0, len(r.cfg.Streams))
	senders := make(map[string]*gateway.Sender)
	for i := range r.cfg.Streams {
		st := r.cfg.Streams[i]
		payloads := st.RenderPayloads(token)
		client := r.newClient(st.Name)

		switch st.Mode {
		case config.ModeLegacy:
			if len(payloads) != 1 {
				return fmt.Errorf("stream %s: legacy 模式需要且仅需要一条 payload", st.Name)
			}
			launches = append(launches, launch{name: st.Name, mode: st.Mode, count: 1,
				run: func(_, legacyCtx context.Context, h gateway.Handler) error {
					return client.LegacyAttach(legacyCtx, h, payloads[0])
				}})
		default:
			class, err := gateway.ParseStreamClass(st.Class)
			if err != nil {
				return fmt.Errorf("stream %s: %w", st.Name, err)
			}
			tx, rx := gateway.NewChannel()
			for _, p := range payloads {
				_ = tx.Send(p)
			}
			senders[st.Name] = tx
			launches = append(launches, launch{name: st.Name, mode: st.Mode, count: len(payloads),
				run: func(ctx, _ context.Context, h gateway.Handler) error {
					return client.AttachStream(ctx, h, class, rx)
				}})
		}
	}

	ctx, r.cancel = context.WithCancel(ctx)
	legacyCtx, legacyCancel := context.WithCancel(ctx)
	r.legacyCancel = legacyCancel
	r.senders = senders

	for _, l := range launches {
		l := l
		r.tracker.Register(l.name)
		r.wg.Add(1)
		go r.runStream(l.name, func(h gateway.Handler) error {
			return l.run(ctx, legacyCtx, h)
		})
		log.Info().Str("stream", l.name).Str("mode", l.mode).Int("payloads", l.count).Msg("流已启动")
	}
	r.started = true

	go func() {
		r.wg.Wait()
		close(r.done)
	}()
	return nil
}

// Send 向 bridge 流追加一条出站消息
func (r *Runner) Send(stream, msg string) error {
	r.mu.Lock()
	tx, ok := r.senders[stream]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("stream %s 不存在或不是 bridge 模式", stream)
	}
	return tx.Send(msg)
}

// Done 所有流结束后关闭
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Stop 停止Runner：legacy 流立即取消，bridge 流先关闭发送端以发出关闭帧，超过宽限期再强制取消。
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	started := r.started
	senders := r.senders
	r.senders = map[string]*gateway.Sender{}
	r.mu.Unlock()

	if !started {
		return
	}

	r.legacyCancel()
	for _, tx := range senders {
		tx.Close()
	}
	select {
	case <-r.done:
	case <-time.After(STOP_GRACE_MS * time.Millisecond):
		log.Warn().Msg("等待流关闭超时，强制取消")
	}
	r.cancel()
	r.wg.Wait()

	log.Info().Msg("Runner已停止")
}

// runStream 运行单条流直到会话返回
func (r *Runner) runStream(name string, attach func(gateway.Handler) error) {
	defer r.wg.Done()

	start := time.Now()
	err := attach(&streamHandler{name: name, r: r})
	r.tracker.Finish(name, err)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Str("stream", name).Dur("uptime", time.Since(start)).Msg("流异常结束")
		return
	}
	log.Info().Str("stream", name).Dur("uptime", time.Since(start)).Msg("流已结束")
}

// streamHandler 把入站消息转给 OutputFunc 并更新活动时间
type streamHandler struct {
	name string
	r    *Runner
}

func (h *streamHandler) OnMessage(data string) {
	h.r.tracker.Touch(h.name)
	h.r.output(h.name, data)
}

func (h *streamHandler) OnError(err error) {
	log.Warn().Err(err).Str("stream", h.name).Msg("流错误")
	h.r.output(h.name, gateway.ErrorPayload(err))
}

// ClientOptions 根据 global 配置构造拨号器（代理、握手超时）和握手头。
func ClientOptions(cfg *config.Config) []gateway.Option {
	dialer := *websocket.DefaultDialer
	if d := cfg.HandshakeTimeout(); d > 0 {
		dialer.HandshakeTimeout = d
	}
	if cfg.Global.ProxyURL != "" {
		u, err := url.Parse(cfg.Global.ProxyURL)
		if err != nil {
			log.Warn().Err(err).Str("proxy", cfg.Global.ProxyURL).Msg("代理地址无效，改为直连")
		} else {
			dialer.Proxy = http.ProxyURL(u)
		}
	}
	opts := []gateway.Option{gateway.WithDialer(&dialer)}
	if cfg.Global.UserAgent != "" {
		opts = append(opts, gateway.WithHeader(http.Header{"User-Agent": []string{cfg.Global.UserAgent}}))
	}
	return opts
}

// NewWatchdog 使用 Runner 的 tracker 创建看门狗，空闲阈值取自配置。
func (r *Runner) NewWatchdog(hooks watchdog.Hooks) *watchdog.Watchdog {
	return watchdog.NewWatchdog(watchdog.Config{
		CheckInterval:     WATCHDOG_CHECK_INTERVAL_SECONDS * time.Second,
		IdleThreshold:     r.cfg.IdleThreshold(),
		RecoveryThreshold: WATCHDOG_RECOVERY_CHECKS,
	}, r.tracker, hooks)
}
