package gateway

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer 是本地 WS 服务端，fn 在独立 goroutine 中处理每个连接。
type wsServer struct {
	srv *httptest.Server
	url *url.URL

	mu      sync.Mutex
	classes []StreamClass
}

func newWSServer(t *testing.T, fn func(conn *websocket.Conn)) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	return &wsServer{srv: srv, url: u}
}

func (s *wsServer) client(opts ...Option) *Client {
	resolver := WithResolver(func(class StreamClass) (*url.URL, error) {
		s.mu.Lock()
		s.classes = append(s.classes, class)
		s.mu.Unlock()
		return s.url, nil
	})
	return NewClient(append(opts, resolver)...)
}

func (s *wsServer) resolvedClasses() []StreamClass {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamClass(nil), s.classes...)
}

// drain 读取直到连接出错
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// refusedClient 返回指向已关闭端口的客户端
func refusedClient(t *testing.T) *Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return NewClient(WithResolver(func(StreamClass) (*url.URL, error) {
		return &url.URL{Scheme: "ws", Host: addr}, nil
	}))
}

// recorder 记录回调，并检测是否有并发调用。
type recorder struct {
	mu       sync.Mutex
	messages []string
	errs     []error

	inFlight   int32
	overlapped atomic.Bool
	delay      time.Duration
	notify     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) OnMessage(data string) {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		r.overlapped.Store(true)
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.messages = append(r.messages, data)
	r.mu.Unlock()
	atomic.AddInt32(&r.inFlight, -1)
	r.notify <- struct{}{}
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *recorder) snapshot() ([]string, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...), append([]error(nil), r.errs...)
}

// waitCalls 等待累计 n 次回调
func (r *recorder) waitCalls(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for callback %d/%d", i+1, n)
		}
	}
}

func TestHandlerFuncRendersErrors(t *testing.T) {
	var got []string
	h := HandlerFunc(func(data string) { got = append(got, data) })
	h.OnMessage(`{"event":"heartbeat"}`)
	h.OnError(errors.New(`unable to connect`))

	if len(got) != 2 || got[0] != `{"event":"heartbeat"}` || got[1] != `{"error":"unable to connect"}` {
		t.Fatalf("unexpected callback payloads: %v", got)
	}
}
