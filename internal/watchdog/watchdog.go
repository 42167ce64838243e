package watchdog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newplayman/krakenws/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Hooks 流状态变化时的回调；看门狗只观测，不重连。
type Hooks interface {
	StreamIdle(name string, idle time.Duration)
	StreamRecovered(name string)
	StreamTerminated(name string, err error)
}

// Config 看门狗配置
type Config struct {
	CheckInterval     time.Duration
	IdleThreshold     time.Duration
	RecoveryThreshold int
}

func (c *Config) normalize() {
	if c.CheckInterval <= 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.IdleThreshold <= 0 {
		c.IdleThreshold = 60 * time.Second
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = 1
	}
}

// streamState 单条流的活动记录
type streamState struct {
	lastActivity time.Time
	terminated   bool
	err          error
	reported     bool // 终止事件是否已通知

	idle       bool
	recoveries int
}

// Tracker 记录各条流的最近活动时间，由入站回调调用 Touch。
type Tracker struct {
	mu      sync.Mutex
	streams map[string]*streamState
}

// NewTracker 创建活动记录器
func NewTracker() *Tracker {
	return &Tracker{streams: make(map[string]*streamState)}
}

// Register 登记一条流，登记时间视为首次活动。
func (t *Tracker) Register(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.streams[name] = &streamState{lastActivity: time.Now()}
	metrics.RecordStreamState(name, "normal")
}

// Touch 记录一次入站活动
func (t *Tracker) Touch(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[name]
	if !ok {
		st = &streamState{}
		t.streams[name] = st
	}
	st.lastActivity = time.Now()
}

// Finish 标记流已终止（会话返回）
func (t *Tracker) Finish(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[name]
	if !ok {
		st = &streamState{}
		t.streams[name] = st
	}
	st.terminated = true
	st.err = err
}

// LastActivity 返回最近活动时间
func (t *Tracker) LastActivity(name string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.streams[name]
	if !ok {
		return time.Time{}, false
	}
	return st.lastActivity, true
}

// Names 返回所有已登记的流名称（已排序）
func (t *Tracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.streams))
	for name := range t.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Watchdog 周期检查 Tracker，发现空闲或已终止的流
type Watchdog struct {
	cfg     Config
	tracker *Tracker
	hooks   Hooks

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatchdog 创建看门狗
func NewWatchdog(cfg Config, tracker *Tracker, hooks Hooks) *Watchdog {
	cfg.normalize()
	return &Watchdog{
		cfg:     cfg,
		tracker: tracker,
		hooks:   hooks,
	}
}

// Start 启动看门狗
func (w *Watchdog) Start(ctx context.Context) {
	if w.tracker == nil || w.hooks == nil {
		log.Warn().Msg("watchdog 未启用：缺少 tracker 或 hooks")
		return
	}

	childCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(childCtx)
	}()
}

// Stop 停止看门狗；退出前再检查一次，补报最后一个周期内终止的流。
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
		w.wg.Wait()
	}
}

func (w *Watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.check(time.Now(), true)
			return
		case <-ticker.C:
			w.check(time.Now(), false)
		}
	}
}

type event struct {
	kind string
	name string
	idle time.Duration
	err  error
}

// check 执行一次检查；回调在锁外调用。terminatedOnly 时只上报终止事件。
func (w *Watchdog) check(now time.Time, terminatedOnly bool) {
	var events []event

	w.tracker.mu.Lock()
	for name, st := range w.tracker.streams {
		if st.terminated {
			if !st.reported {
				st.reported = true
				events = append(events, event{kind: "terminated", name: name, err: st.err})
			}
			continue
		}
		if terminatedOnly {
			continue
		}
		idleFor := now.Sub(st.lastActivity)
		if idleFor > w.cfg.IdleThreshold {
			st.recoveries = 0
			if !st.idle {
				st.idle = true
				events = append(events, event{kind: "idle", name: name, idle: idleFor})
			}
			continue
		}
		if st.idle {
			st.recoveries++
			if st.recoveries >= w.cfg.RecoveryThreshold {
				st.idle = false
				st.recoveries = 0
				events = append(events, event{kind: "recovered", name: name})
			}
		}
	}
	w.tracker.mu.Unlock()

	for _, ev := range events {
		switch ev.kind {
		case "terminated":
			metrics.RecordStreamState(ev.name, "terminated")
			log.Warn().Str("stream", ev.name).Err(ev.err).Msg("流已终止（不会自动重连）")
			w.hooks.StreamTerminated(ev.name, ev.err)
		case "idle":
			metrics.RecordStreamState(ev.name, "idle")
			log.Warn().
				Str("stream", ev.name).
				Dur("idle", ev.idle).
				Dur("threshold", w.cfg.IdleThreshold).
				Msg("流长时间无入站消息")
			w.hooks.StreamIdle(ev.name, ev.idle)
		case "recovered":
			metrics.RecordStreamState(ev.name, "normal")
			log.Info().Str("stream", ev.name).Msg("流恢复")
			w.hooks.StreamRecovered(ev.name)
		}
	}
}
