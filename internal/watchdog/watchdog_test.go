package watchdog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingHooks struct {
	mu         sync.Mutex
	idle       []string
	recovered  []string
	terminated map[string]error
}

func newRecordingHooks() *recordingHooks {
	return &recordingHooks{terminated: make(map[string]error)}
}

func (h *recordingHooks) StreamIdle(name string, idle time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.idle = append(h.idle, name)
}

func (h *recordingHooks) StreamRecovered(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recovered = append(h.recovered, name)
}

func (h *recordingHooks) StreamTerminated(name string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated[name] = err
}

func TestTrackerTouch(t *testing.T) {
	tr := NewTracker()
	tr.Register("trades")
	first, ok := tr.LastActivity("trades")
	require.True(t, ok)

	time.Sleep(2 * time.Millisecond)
	tr.Touch("trades")
	second, _ := tr.LastActivity("trades")
	require.True(t, second.After(first))

	_, ok = tr.LastActivity("missing")
	require.False(t, ok)
	require.Equal(t, []string{"trades"}, tr.Names())
}

func TestWatchdogIdleAndRecovery(t *testing.T) {
	tr := NewTracker()
	tr.Register("book")
	hooks := newRecordingHooks()
	w := NewWatchdog(Config{IdleThreshold: time.Second, RecoveryThreshold: 1}, tr, hooks)

	now := time.Now()
	w.check(now.Add(2 * time.Second), false)
	w.check(now.Add(3 * time.Second), false) // 空闲只通知一次
	require.Equal(t, []string{"book"}, hooks.idle)

	tr.Touch("book")
	w.check(time.Now(), false)
	require.Equal(t, []string{"book"}, hooks.recovered)
}

func TestWatchdogTerminatedReportedOnce(t *testing.T) {
	tr := NewTracker()
	tr.Register("orders")
	hooks := newRecordingHooks()
	w := NewWatchdog(Config{IdleThreshold: time.Hour}, tr, hooks)

	boom := errors.New("ws read: unexpected EOF")
	tr.Finish("orders", boom)
	w.check(time.Now(), false)
	w.check(time.Now().Add(2 * time.Hour), false)

	require.Len(t, hooks.terminated, 1)
	require.ErrorIs(t, hooks.terminated["orders"], boom)
	require.Empty(t, hooks.idle, "terminated streams are not reported idle")
}

func TestWatchdogStartStop(t *testing.T) {
	tr := NewTracker()
	tr.Register("ticker")
	hooks := newRecordingHooks()
	w := NewWatchdog(Config{CheckInterval: 5 * time.Millisecond, IdleThreshold: time.Millisecond}, tr, hooks)

	w.Start(context.Background())
	require.Eventually(t, func() bool {
		hooks.mu.Lock()
		defer hooks.mu.Unlock()
		return len(hooks.idle) == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()
}

func TestWatchdogDisabledWithoutHooks(t *testing.T) {
	w := NewWatchdog(Config{}, NewTracker(), nil)
	w.Start(context.Background())
	w.Stop()
}

func TestWatchdogStopFlushesTermination(t *testing.T) {
	tr := NewTracker()
	tr.Register("book")
	tr.Register("spread")
	hooks := newRecordingHooks()
	// 检查周期足够长，Stop 之前不会触发任何一次常规检查
	w := NewWatchdog(Config{CheckInterval: time.Hour, IdleThreshold: time.Nanosecond}, tr, hooks)
	w.Start(context.Background())

	boom := errors.New("connection reset")
	tr.Finish("book", boom)
	w.Stop()

	require.Len(t, hooks.terminated, 1)
	require.ErrorIs(t, hooks.terminated["book"], boom)
	require.Empty(t, hooks.idle, "final pass reports terminations only")
}
