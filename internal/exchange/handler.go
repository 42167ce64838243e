package gateway

import (
	"encoding/json"
	"fmt"
)

// Handler 接收入站消息与连接错误。两个方法都在入站循环中同步调用，
// 返回前不会读取下一帧，因此不要在其中长时间阻塞。
type Handler interface {
	OnMessage(data string)
	OnError(err error)
}

// HandlerFunc 把普通函数适配为 Handler；错误以 {"error":"..."} 文本形式传入同一函数。
type HandlerFunc func(data string)

func (f HandlerFunc) OnMessage(data string) { f(data) }

func (f HandlerFunc) OnError(err error) { f(ErrorPayload(err)) }

// ErrorPayload 把错误渲染为 {"error":"..."} JSON 文本。
func ErrorPayload(err error) string {
	if err == nil {
		return `{"error":""}`
	}
	b, mErr := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	if mErr != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(b)
}

// FrameError 表示一帧无法解码为文本。
type FrameError struct {
	MessageType int
	Size        int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("malformed frame: type=%d size=%d is not valid UTF-8 text", e.MessageType, e.Size)
}
