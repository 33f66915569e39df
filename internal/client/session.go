package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// Requester 发出一个命令并总是得到一个 Result
type Requester interface {
	Do(ctx context.Context, cmd string, payload any) protocol.Result
}

// Directory 查询 broker 上的串口与绑定
type Directory interface {
	PortList(ctx context.Context) ([]protocol.PortDescriptor, error)
	OpenPorts(ctx context.Context) (map[string]protocol.PortSummary, error)
	ActiveSlaves(ctx context.Context) (map[string]protocol.SlaveSummary, error)
}

// API 是设备会话需要的全部 broker 能力，*Conn 满足该接口
type API interface {
	Requester
	Directory
}

// Session 是一个 tag 上的基础串口会话，不做串行化与重试
type Session struct {
	api  API
	tag  string
	port protocol.PortDescriptor
	line protocol.LineConfig
}

func NewSession(api API, tag string, port protocol.PortDescriptor, line protocol.LineConfig) *Session {
	line.TagName = tag
	return &Session{api: api, tag: tag, port: port, line: line}
}

func (s *Session) Tag() string                   { return s.tag }
func (s *Session) Port() protocol.PortDescriptor { return s.port }
func (s *Session) Line() protocol.LineConfig     { return s.line }

// SetPort 切换会话使用的物理串口，下一次 Open 生效
func (s *Session) SetPort(p protocol.PortDescriptor) { s.port = p }

func (s *Session) openRequest() protocol.OpenRequest {
	return protocol.OpenRequest{PortInfo: s.port, Config: s.line}
}

func (s *Session) Open(ctx context.Context) protocol.Result {
	if s.port.Path == "" {
		return protocol.Fail(protocol.UnknownPath, "no serial port assigned to "+s.tag)
	}
	return s.api.Do(ctx, protocol.CmdOpenPort, s.openRequest())
}

func (s *Session) Close(ctx context.Context) protocol.Result {
	return s.api.Do(ctx, protocol.CmdClosePort, s.tag)
}

func (s *Session) Write(ctx context.Context, content any, encoding string) protocol.Result {
	return s.api.Do(ctx, protocol.CmdWriteBuffer, protocol.WriteRequest{
		TagName: s.tag,
		Message: protocol.WriteMessage{Content: content, Encoding: encoding},
	})
}

// Read 等待 delay 后取走接收缓冲区；文本结果转为大写
func (s *Session) Read(ctx context.Context, delay time.Duration, encoding string) protocol.Result {
	if err := sleep(ctx, delay); err != nil {
		return protocol.Fail(protocol.UnknownPath, err.Error())
	}
	res := s.api.Do(ctx, protocol.CmdReadBuffer, protocol.ReadRequest{TagName: s.tag, Encoding: encoding})
	var text string
	if res.Success && !res.IsNull() && json.Unmarshal(res.Message, &text) == nil {
		return protocol.OK(res.Path, strings.ToUpper(text))
	}
	return res
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
