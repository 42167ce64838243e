package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/newplayman/krakenws/internal/config"
	gateway "github.com/newplayman/krakenws/internal/exchange"
	"github.com/newplayman/krakenws/internal/metrics"
	"github.com/newplayman/krakenws/internal/runner"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	appName    = "krakenws"
	appVersion = "0.3.0"
)

var (
	configFile  = flag.String("config", "config.yaml", "配置文件路径")
	logLevel    = flag.String("log", "", "日志级别 (debug, info, warn, error)，为空时使用配置文件")
	showVersion = flag.Bool("version", false, "打印版本后退出")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	}

	// 日志写 stderr，stdout 只输出流消息
	setupLogger(*logLevel)

	log.Info().Str("version", appVersion).Msgf("%s 启动中...", appName)

	// 加载配置
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	if *logLevel == "" {
		applyLogLevel(cfg.Global.LogLevel)
	}
	config.OnReload(func(c *config.Config) {
		if *logLevel == "" {
			applyLogLevel(c.Global.LogLevel)
		}
	})

	log.Info().
		Int("streams", len(cfg.Streams)).
		Bool("needs_token", cfg.NeedsToken()).
		Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动Prometheus监控
	if cfg.Global.MetricsPort >= 0 {
		if _, err := metrics.StartMetricsServer(cfg.Global.MetricsPort); err != nil {
			log.Error().Err(err).Msg("启动监控服务器失败")
		}
	}

	// 私有流需要 WebSocket token
	var token string
	if cfg.NeedsToken() {
		rest := gateway.NewKrakenRESTClient(cfg.Global.RestURL, cfg.Global.APIKey, cfg.Global.APISecret)
		tokenCtx, tokenCancel := context.WithTimeout(ctx, 30*time.Second)
		token, err = rest.GetWebSocketsToken(tokenCtx)
		tokenCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("获取 WebSocket token 失败")
		}
		log.Info().Msg("WebSocket token 获取成功")
	}

	r := runner.NewRunner(cfg, nil, nil, printFrame)
	if err := r.Start(ctx, token); err != nil {
		log.Fatal().Err(err).Msg("启动流失败")
	}

	wd := r.NewWatchdog(statusHooks{})
	wd.Start(ctx)

	// 等待退出信号或全部流结束
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("收到退出信号，正在关闭...")
	case <-r.Done():
		log.Info().Msg("所有流已结束")
	}

	r.Stop()
	wd.Stop()
	cancel()

	log.Info().Msgf("%s 已关闭", appName)
}

var stdoutMu sync.Mutex

// printFrame 每条消息一行：<stream>\t<payload>
func printFrame(stream, data string) {
	stdoutMu.Lock()
	defer stdoutMu.Unlock()
	fmt.Fprintf(os.Stdout, "%s\t%s\n", stream, data)
}

// statusHooks 把看门狗事件以 JSON 行输出到 stdout，与流消息同一通道
type statusHooks struct{}

func (statusHooks) StreamIdle(name string, idle time.Duration) {
	printFrame(name, fmt.Sprintf(`{"status":"idle","idle_sec":%d}`, int64(idle.Seconds())))
}

func (statusHooks) StreamRecovered(name string) {
	printFrame(name, `{"status":"recovered"}`)
}

// StreamTerminated 在 wd.Stop 的最后一次检查中也会触发，主动关闭导致的取消不算错误。
func (statusHooks) StreamTerminated(name string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		printFrame(name, gateway.ErrorPayload(err))
	}
	printFrame(name, `{"status":"terminated"}`)
}

// setupLogger 设置日志
func setupLogger(level string) {
	// 设置日志格式为人类可读的格式
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	})
	applyLogLevel(level)
}

// applyLogLevel 设置日志级别，未知值回退到 info
func applyLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
