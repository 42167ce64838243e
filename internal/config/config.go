package config

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	gateway "github.com/newplayman/krakenws/internal/exchange"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Global  GlobalConfig   `mapstructure:"global"`
	Streams []StreamConfig `mapstructure:"streams"`
}

// GlobalConfig 全局配置
type GlobalConfig struct {
	APIKey           string `mapstructure:"api_key"`            // Kraken API Key
	APISecret        string `mapstructure:"api_secret"`         // Kraken API Secret (base64)
	RestURL          string `mapstructure:"rest_url"`           // REST 地址，默认 https://api.kraken.com
	LogLevel         string `mapstructure:"log_level"`          // 日志级别
	MetricsPort      int    `mapstructure:"metrics_port"`       // Prometheus 端口（0=随机，<0=禁用）
	IdleThresholdSec int    `mapstructure:"idle_threshold_sec"` // 无入站消息多久视为空闲 (秒)

	// WS 拨号参数
	ProxyURL            string `mapstructure:"proxy_url"`             // http:// 或 socks5:// 代理，空=直连
	UserAgent           string `mapstructure:"user_agent"`            // 握手时的 User-Agent
	HandshakeTimeoutSec int    `mapstructure:"handshake_timeout_sec"` // 握手超时 (秒)
}

// StreamConfig 单条流配置
type StreamConfig struct {
	Name     string   `mapstructure:"name"`     // 流名称，用于日志/指标
	Mode     string   `mapstructure:"mode"`     // bridge | legacy
	Class    string   `mapstructure:"class"`    // public | private（仅 bridge 模式）
	Payloads []string `mapstructure:"payloads"` // 连接后发送的消息，可包含 {{token}}
}

const (
	ModeBridge = "bridge"
	ModeLegacy = "legacy"

	// TokenPlaceholder 在 payload 中会被替换为 WebSocket token
	TokenPlaceholder = "{{token}}"
)

var (
	mu          sync.Mutex
	reloadHooks []func(*Config)
)

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	viper.SetDefault("global.rest_url", "https://api.kraken.com")
	viper.SetDefault("global.log_level", "info")
	viper.SetDefault("global.idle_threshold_sec", 60)
	viper.SetDefault("global.user_agent", "krakenws")
	viper.SetDefault("global.handshake_timeout_sec", 10)

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvPrefix("KRAKENWS")
	viper.BindEnv("global.api_key", "KRAKEN_API_KEY")
	viper.BindEnv("global.api_secret", "KRAKEN_API_SECRET")
	viper.BindEnv("global.rest_url", "KRAKEN_REST_URL")
	viper.BindEnv("global.metrics_port", "KRAKENWS_METRICS_PORT")
	viper.BindEnv("global.log_level", "KRAKENWS_LOG_LEVEL")
	viper.BindEnv("global.proxy_url", "KRAKENWS_PROXY_URL")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 验证配置
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	// 启动热重载监听
	watchConfig()

	log.Info().Str("path", path).Msg("配置加载成功")
	return &cfg, nil
}

// OnReload 注册热重载回调；已运行的流不受影响，仅 global 段（如日志级别）会被重新应用。
func OnReload(fn func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	reloadHooks = append(reloadHooks, fn)
}

// validateConfig 验证配置有效性
func validateConfig(cfg *Config) error {
	if len(cfg.Streams) == 0 {
		return fmt.Errorf("至少需要配置一条流")
	}

	seen := make(map[string]bool, len(cfg.Streams))
	needsToken := false
	for i := range cfg.Streams {
		st := &cfg.Streams[i]
		if st.Name == "" {
			return fmt.Errorf("streams[%d]: name 不能为空", i)
		}
		if seen[st.Name] {
			return fmt.Errorf("streams[%d]: name %q 重复", i, st.Name)
		}
		seen[st.Name] = true

		if st.Mode == "" {
			st.Mode = ModeBridge
		}
		st.Mode = strings.ToLower(st.Mode)
		switch st.Mode {
		case ModeBridge:
			class := strings.ToLower(st.Class)
			if class != "public" && class != "private" {
				return fmt.Errorf("streams[%d]: bridge 模式的 class 必须是 public 或 private", i)
			}
			st.Class = class
			if class == "private" {
				needsToken = true
			}
		case ModeLegacy:
			if len(st.Payloads) != 1 {
				return fmt.Errorf("streams[%d]: legacy 模式必须且只能配置一条 payload", i)
			}
			switch gateway.Classify(st.Payloads[0]) {
			case gateway.StreamUnroutable:
				return fmt.Errorf("streams[%d]: legacy payload 无法识别公共/私有事件", i)
			case gateway.StreamPrivate:
				needsToken = true
			}
		default:
			return fmt.Errorf("streams[%d]: 未知 mode %q", i, st.Mode)
		}

		for _, p := range st.Payloads {
			if strings.Contains(p, TokenPlaceholder) {
				needsToken = true
			}
		}
	}

	if needsToken && (cfg.Global.APIKey == "" || cfg.Global.APISecret == "") {
		return fmt.Errorf("私有流需要 API Key 和 Secret")
	}
	if cfg.Global.IdleThresholdSec < 0 {
		return fmt.Errorf("idle_threshold_sec 必须 >= 0")
	}
	if cfg.Global.HandshakeTimeoutSec < 0 {
		return fmt.Errorf("handshake_timeout_sec 必须 >= 0")
	}
	if cfg.Global.ProxyURL != "" {
		u, err := url.Parse(cfg.Global.ProxyURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("proxy_url 无效: %q", cfg.Global.ProxyURL)
		}
		if u.Scheme != "http" && u.Scheme != "socks5" {
			return fmt.Errorf("proxy_url 仅支持 http 或 socks5，得到 %q", u.Scheme)
		}
	}
	return nil
}

// watchConfig 监听配置文件变化并热重载
func watchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("检测到配置文件变化，正在重载...")

		var newCfg Config
		if err := viper.Unmarshal(&newCfg); err != nil {
			log.Error().Err(err).Msg("重载配置失败")
			return
		}

		if err := validateConfig(&newCfg); err != nil {
			log.Error().Err(err).Msg("新配置验证失败，保持旧配置")
			return
		}

		mu.Lock()
		hooks := append([]func(*Config){}, reloadHooks...)
		mu.Unlock()

		for _, fn := range hooks {
			fn(&newCfg)
		}
		log.Info().Msg("配置热重载成功")
	})
	viper.WatchConfig()
}

// IdleThreshold 获取空闲阈值
func (c *Config) IdleThreshold() time.Duration {
	return time.Duration(c.Global.IdleThresholdSec) * time.Second
}

// HandshakeTimeout 获取握手超时，0 表示使用默认值
func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Global.HandshakeTimeoutSec) * time.Second
}

// NeedsToken 是否有流需要 WebSocket token
func (c *Config) NeedsToken() bool {
	for _, st := range c.Streams {
		if st.Mode == ModeBridge && st.Class == "private" {
			return true
		}
		if st.Mode == ModeLegacy && len(st.Payloads) == 1 && gateway.Classify(st.Payloads[0]) == gateway.StreamPrivate {
			return true
		}
		for _, p := range st.Payloads {
			if strings.Contains(p, TokenPlaceholder) {
				return true
			}
		}
	}
	return false
}

// RenderPayloads 返回替换 token 占位符后的 payload
func (s *StreamConfig) RenderPayloads(token string) []string {
	out := make([]string, len(s.Payloads))
	for i, p := range s.Payloads {
		out[i] = strings.ReplaceAll(p, TokenPlaceholder, token)
	}
	return out
}
