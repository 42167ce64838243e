package gateway

import (
	"context"
	"sync"
	"time"
)

const (
	// 私有接口默认每秒最多一次签名调用
	krakenCounterMax   = 1
	krakenCounterDecay = 1
)

// RateLimiter 在签名 REST 调用前等待配额，ctx 取消时返回 ctx.Err()。
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// CallCounterLimiter 按 Kraken 私有接口的调用计数器建模：
// 每次调用计数 +cost，计数以 decay/秒 衰减，超过 max 时等待衰减。
type CallCounterLimiter struct {
	mu      sync.Mutex
	max     float64
	decay   float64
	counter float64
	last    time.Time
}

// NewCallCounterLimiter maxCounter 为计数上限，decayPerSec 为每秒衰减量。
func NewCallCounterLimiter(maxCounter, decayPerSec float64) *CallCounterLimiter {
	if maxCounter <= 0 {
		maxCounter = krakenCounterMax
	}
	if decayPerSec <= 0 {
		decayPerSec = krakenCounterDecay
	}
	return &CallCounterLimiter{max: maxCounter, decay: decayPerSec, last: time.Now()}
}

// Wait 等待一次 cost=1 的调用配额
func (l *CallCounterLimiter) Wait(ctx context.Context) error {
	return l.WaitCost(ctx, 1)
}

// WaitCost 等待 cost 的配额；cost 大于上限时按上限计。
func (l *CallCounterLimiter) WaitCost(ctx context.Context, cost float64) error {
	if cost > l.max {
		cost = l.max
	}
	for {
		wait := l.reserve(cost)
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve 成功时计入 cost 并返回 0，否则返回需要等待的时长。
func (l *CallCounterLimiter) reserve(cost float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.counter -= now.Sub(l.last).Seconds() * l.decay
	if l.counter < 0 {
		l.counter = 0
	}
	l.last = now
	if l.counter+cost <= l.max {
		l.counter += cost
		return 0
	}
	over := l.counter + cost - l.max
	return time.Duration(over/l.decay*float64(time.Second)) + time.Millisecond
}
