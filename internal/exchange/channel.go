package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrChannelClosed 表示通道已关闭：接收端已释放，或所有发送端都已关闭且队列为空。
var ErrChannelClosed = errors.New("channel closed")

// queue 是无界 FIFO，多生产者单消费者。
type queue struct {
	mu       sync.Mutex
	items    []string
	senders  int
	rxClosed bool
	notify   chan struct{} // cap 1，唤醒唯一的消费者
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Sender 是通道的发送端，可 Clone 出多个独立句柄。
type Sender struct {
	q      *queue
	once   sync.Once
	closed atomic.Bool
}

// Receiver 是通道唯一的接收端，同一时间只归属一个 bridge。
type Receiver struct {
	q *queue
}

// NewChannel 创建通信通道，返回一个发送端和接收端。
func NewChannel() (*Sender, *Receiver) {
	q := &queue{
		senders: 1,
		notify:  make(chan struct{}, 1),
	}
	return &Sender{q: q}, &Receiver{q: q}
}

// Send 入队一条消息，不阻塞、不确认送达。
// 该发送端或接收端已关闭时返回 ErrChannelClosed（不会 panic）。
func (s *Sender) Send(msg string) error {
	if s.closed.Load() {
		return ErrChannelClosed
	}
	s.q.mu.Lock()
	if s.q.rxClosed {
		s.q.mu.Unlock()
		return ErrChannelClosed
	}
	s.q.items = append(s.q.items, msg)
	s.q.mu.Unlock()
	s.q.wake()
	return nil
}

// Clone 返回共享同一队列的新发送端，引用计数 +1。
// 已关闭的发送端克隆出的句柄同样是关闭状态，不会让通道复活。
func (s *Sender) Clone() *Sender {
	c := &Sender{q: s.q}
	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if s.closed.Load() {
		c.once.Do(func() {})
		c.closed.Store(true)
		return c
	}
	s.q.senders++
	return c
}

// Close 释放该发送端；最后一个发送端关闭后，接收端在排空队列后收到 ErrChannelClosed。
// 重复调用无副作用。
func (s *Sender) Close() {
	s.once.Do(func() {
		s.q.mu.Lock()
		s.closed.Store(true)
		s.q.senders--
		s.q.mu.Unlock()
		s.q.wake()
	})
}

// Recv 取出下一条消息，队列为空时阻塞直到有新消息、通道关闭或 ctx 取消。
func (r *Receiver) Recv(ctx context.Context) (string, error) {
	for {
		r.q.mu.Lock()
		if r.q.rxClosed {
			r.q.mu.Unlock()
			return "", ErrChannelClosed
		}
		if len(r.q.items) > 0 {
			msg := r.q.items[0]
			r.q.items[0] = ""
			r.q.items = r.q.items[1:]
			if len(r.q.items) == 0 {
				r.q.items = nil
			}
			r.q.mu.Unlock()
			return msg, nil
		}
		if r.q.senders <= 0 {
			r.q.mu.Unlock()
			return "", ErrChannelClosed
		}
		r.q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-r.q.notify:
		}
	}
}

// Len 返回当前排队的消息数
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// Close 释放接收端并丢弃未发送的消息；之后的 Send 返回 ErrChannelClosed。
func (r *Receiver) Close() {
	r.q.mu.Lock()
	r.q.rxClosed = true
	r.q.items = nil
	r.q.mu.Unlock()
	r.q.wake()
}
