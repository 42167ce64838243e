package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// WebSocket 流量指标
	WSMessageCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krakenws_ws_messages_total",
			Help: "WebSocket消息数量（按方向统计）",
		},
		[]string{"stream", "direction"}, // direction: inbound, outbound
	)

	WSBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krakenws_ws_bytes_total",
			Help: "WebSocket字节数（按方向统计）",
		},
		[]string{"stream", "direction"},
	)

	ErrorCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "krakenws_error_count_total",
			Help: "错误计数",
		},
		[]string{"type", "stream"},
	)

	// 会话指标
	SessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "krakenws_sessions_active",
			Help: "当前活跃会话数",
		},
		[]string{"mode"}, // mode: bridge, legacy
	)

	SessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "krakenws_session_duration_seconds",
			Help:    "会话存活时长",
			Buckets: []float64{1, 10, 60, 300, 1800, 3600, 21600, 86400},
		},
		[]string{"mode"},
	)

	OutboundQueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "krakenws_outbound_queue_length",
			Help: "出站消息队列当前长度",
		},
		[]string{"stream"},
	)

	// REST 指标
	RESTLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "krakenws_rest_latency_seconds",
			Help:    "REST请求延迟",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"endpoint", "status"},
	)

	// 看门狗指标
	StreamIdle = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "krakenws_stream_idle",
			Help: "流是否处于空闲/终止状态 (0=正常, 1=空闲, 2=已终止)",
		},
		[]string{"stream"},
	)
)

func init() {
	// 注册所有指标
	prometheus.MustRegister(
		WSMessageCount,
		WSBytes,
		ErrorCount,
		SessionsActive,
		SessionDuration,
		OutboundQueueLength,
		RESTLatency,
		StreamIdle,
	)
}

// StartMetricsServer 启动Prometheus监控服务器，并返回实际监听端口
func StartMetricsServer(port int) (int, error) {
	if port < 0 {
		port = 0
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listen on %s failed: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port

	log.Info().Int("port", actualPort).Msg("启动Prometheus监控服务器")

	go func() {
		if err := http.Serve(listener, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Prometheus服务器启动失败")
		}
	}()

	return actualPort, nil
}

// RecordWSMessage 记录WebSocket消息
func RecordWSMessage(stream, direction string, bytes int) {
	WSMessageCount.WithLabelValues(stream, direction).Inc()
	WSBytes.WithLabelValues(stream, direction).Add(float64(bytes))
}

// RecordError 记录错误
func RecordError(errType, stream string) {
	ErrorCount.WithLabelValues(errType, stream).Inc()
}

// SessionStarted 记录会话开始，返回结束时调用的函数
func SessionStarted(mode string) func() {
	start := time.Now()
	SessionsActive.WithLabelValues(mode).Inc()
	return func() {
		SessionsActive.WithLabelValues(mode).Dec()
		SessionDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}
}

// UpdateQueueLength 更新出站队列长度
func UpdateQueueLength(stream string, length int) {
	OutboundQueueLength.WithLabelValues(stream).Set(float64(length))
}

// ObserveREST 记录REST请求耗时
func ObserveREST(endpoint, status string, d time.Duration) {
	RESTLatency.WithLabelValues(endpoint, status).Observe(d.Seconds())
}

// RecordStreamState 更新流状态 (normal, idle, terminated)
func RecordStreamState(stream, state string) {
	value := 0.0
	switch state {
	case "idle":
		value = 1.0
	case "terminated":
		value = 2.0
	default:
		value = 0.0
	}
	StreamIdle.WithLabelValues(stream).Set(value)
}
