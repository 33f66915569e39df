package client

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// handlerFunc 返回响应载荷；ok 为 false 时不回复
type handlerFunc func(cmd string, data json.RawMessage) (payload any, ok bool)

// fakeTransport 在后台协程里把请求交给 handler，并把响应送回 Correlator
type fakeTransport struct {
	mu      sync.Mutex
	corr    *Correlator
	handler handlerFunc
	delay   func() time.Duration
	sent    []protocol.Envelope
	calls   map[string]int
}

func newFakeConn(timeout time.Duration, h handlerFunc) (*Conn, *fakeTransport) {
	lc := logger.NewMockClient()
	corr := NewCorrelator(timeout, lc)
	ft := &fakeTransport{corr: corr, handler: h, calls: make(map[string]int)}
	return NewConn(corr, ft, lc), ft
}

func (f *fakeTransport) Send(env protocol.Envelope) error {
	cmd, _ := protocol.CommandOf(env.Event)
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.calls[cmd]++
	delay := f.delay
	f.mu.Unlock()
	go func() {
		if delay != nil {
			time.Sleep(delay())
		}
		payload, ok := f.handler(cmd, env.Data)
		if ok {
			f.corr.Deliver(env.Reply(protocol.ResponseEvent(cmd), payload))
		}
	}()
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) count(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[cmd]
}

func (f *fakeTransport) tokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, e := range f.sent {
		out[i] = e.Token
	}
	return out
}

// loopbackPort 模拟 broker 上一个回环原始串口
type loopbackPort struct {
	mu     sync.Mutex
	open   map[string]string
	slaves map[string]string
	ports  []protocol.PortDescriptor
	rx     map[string][]byte
	// answers 按路径决定写入后回复什么，缺省为回环
	answers map[string]func([]byte) []byte
}

func newLoopback(paths ...string) *loopbackPort {
	lb := &loopbackPort{
		open:    map[string]string{},
		slaves:  map[string]string{},
		rx:      map[string][]byte{},
		answers: map[string]func([]byte) []byte{},
	}
	for _, p := range paths {
		lb.ports = append(lb.ports, protocol.PortDescriptor{Path: p, SerialNumber: "SN" + p})
	}
	return lb
}

func (lb *loopbackPort) handle(cmd string, data json.RawMessage) (any, bool) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	switch cmd {
	case protocol.CmdPortList:
		return lb.ports, true
	case protocol.CmdOpenPorts:
		out := map[string]protocol.PortSummary{}
		for tag, path := range lb.open {
			out[tag] = protocol.PortSummary{Path: path, IsOpen: true}
		}
		return out, true
	case protocol.CmdActiveSlaves:
		out := map[string]protocol.SlaveSummary{}
		for tag, path := range lb.slaves {
			out[tag] = protocol.SlaveSummary{Path: path, IsOpen: true}
		}
		return out, true
	case protocol.CmdOpenPort:
		var req protocol.OpenRequest
		_ = json.Unmarshal(data, &req)
		lb.open[req.Config.TagName] = req.PortInfo.Path
		return protocol.OK(req.PortInfo.Path, "opened"), true
	case protocol.CmdClosePort:
		var tag string
		_ = json.Unmarshal(data, &tag)
		path, ok := lb.open[tag]
		if !ok {
			return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverOpened), true
		}
		delete(lb.open, tag)
		return protocol.OK(path, "closed"), true
	case protocol.CmdWriteBuffer:
		var req protocol.WriteRequest
		_ = json.Unmarshal(data, &req)
		path, ok := lb.open[req.TagName]
		if !ok {
			return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverOpened), true
		}
		b, err := protocol.DecodeContent(req.Message.Content, req.Message.Encoding)
		if err != nil {
			return protocol.Fail(path, err.Error()), true
		}
		if answer, ok := lb.answers[path]; ok {
			b = answer(b)
		}
		lb.rx[path] = append(lb.rx[path], b...)
		return protocol.OK(path, req.Message.Content), true
	case protocol.CmdReadBuffer:
		var req protocol.ReadRequest
		_ = json.Unmarshal(data, &req)
		path, ok := lb.open[req.TagName]
		if !ok {
			return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverOpened), true
		}
		b := lb.rx[path]
		delete(lb.rx, path)
		if b == nil {
			return protocol.OK(path, nil), true
		}
		s, _ := protocol.EncodeBytes(b, req.Encoding)
		return protocol.OK(path, s), true
	}
	return protocol.Fail(protocol.UnknownPath, "unsupported "+cmd), true
}
