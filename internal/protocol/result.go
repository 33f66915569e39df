package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	// UnknownPath 用于 tag 没有任何绑定时的结果
	UnknownPath = "Unknown"

	MessageTimeout      = "timeout"
	MessageNeverCreated = "device never created"
	MessageNeverOpened  = "port never opened"
)

// Result 是每个命令统一的响应形状 {path, success, message}。
// Message 保持原始 JSON，取值可能是字符串、寄存器数组、对象或 null。
type Result struct {
	Path    string          `json:"path"`
	Success bool            `json:"success"`
	Message json.RawMessage `json:"message"`
	Addr    *int            `json:"addr,omitempty"`
	// Critical 表示错误命中严重错误名单，需要操作员重新插拔 USB 适配器
	Critical bool `json:"critical,omitempty"`
}

func newResult(path string, ok bool, msg any) Result {
	raw, err := json.Marshal(msg)
	if err != nil {
		raw, _ = json.Marshal(fmt.Sprint(msg))
	}
	return Result{Path: path, Success: ok, Message: raw}
}

// OK 构造成功结果
func OK(path string, msg any) Result { return newResult(path, true, msg) }

// Fail 构造失败结果
func Fail(path string, msg any) Result { return newResult(path, false, msg) }

// Timeout 构造超时结果
func Timeout(path string) Result { return newResult(path, false, MessageTimeout) }

// WithAddr 附带节点地址（set-node-address 响应）
func (r Result) WithAddr(addr int) Result {
	r.Addr = &addr
	return r
}

// MarkCritical 标记严重硬件错误
func (r Result) MarkCritical() Result {
	r.Critical = true
	return r
}

// Text 返回消息的文本形式：JSON 字符串去掉引号，null 为空串，其余原样返回
func (r Result) Text() string {
	if len(r.Message) == 0 || string(r.Message) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Message, &s); err == nil {
		return s
	}
	return string(r.Message)
}

// IsNull 报告消息是否为 null（例如接收缓冲区为空）
func (r Result) IsNull() bool {
	return len(r.Message) == 0 || string(r.Message) == "null"
}

// IsTimeout 报告这是否是一个超时结果
func (r Result) IsTimeout() bool {
	return !r.Success && r.Text() == MessageTimeout
}

// Decode 把消息解码到 v
func (r Result) Decode(v any) error {
	if r.IsNull() {
		return fmt.Errorf("result from %s has no message", r.Path)
	}
	return json.Unmarshal(r.Message, v)
}

// Registers 把消息解码为寄存器数组
func (r Result) Registers() ([]uint16, error) {
	var regs []uint16
	if err := r.Decode(&regs); err != nil {
		return nil, fmt.Errorf("decode registers: %w", err)
	}
	return regs, nil
}
