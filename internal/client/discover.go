package client

import (
	"context"
	"fmt"
	"time"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// probeGap 是两个候选串口之间的间隔
const probeGap = 20 * time.Millisecond

// Prober 在一个候选串口上建立绑定并验证设备身份
type Prober interface {
	Acquire(ctx context.Context) protocol.Result
	Probe(ctx context.Context) protocol.Result
	Release(ctx context.Context) protocol.Result
}

// DiscoverResult 是端口发现的结果
type DiscoverResult struct {
	Success bool                    `json:"success"`
	Port    protocol.PortDescriptor `json:"port"`
	Message string                  `json:"message"`
	Reused  bool                    `json:"reused"`
}

// PortDiscover 为会话寻找一个物理串口。
// tag 在 broker 上已有绑定时直接复用其路径；否则按 filter 过滤候选（无匹配时使用全部串口），
// 逐个 Acquire + Probe，失败的候选被 Release。
func PortDiscover(ctx context.Context, sess *Session, filter protocol.PortFilter, p Prober) DiscoverResult {
	if path, ok := boundPath(ctx, sess); ok {
		sess.SetPort(protocol.PortDescriptor{Path: path})
		return DiscoverResult{Success: true, Port: sess.Port(), Reused: true, Message: fmt.Sprintf("%s already bound to %s", sess.tag, path)}
	}

	ports, err := sess.api.PortList(ctx)
	if err != nil {
		return DiscoverResult{Message: "port list: " + err.Error()}
	}
	if len(ports) == 0 {
		return DiscoverResult{Message: "no serial ports to connect to"}
	}
	candidates := protocol.FilterPorts(ports, filter)
	if len(candidates) == 0 {
		candidates = ports
	}

	for _, port := range candidates {
		sess.SetPort(port)
		if res := p.Acquire(ctx); res.Success {
			if probe := p.Probe(ctx); probe.Success {
				return DiscoverResult{Success: true, Port: port, Message: "serial port discovered"}
			}
			p.Release(ctx)
		}
		if err := sleep(ctx, probeGap); err != nil {
			break
		}
	}
	sess.SetPort(protocol.PortDescriptor{})
	return DiscoverResult{Message: "no serial port answered the request"}
}

func boundPath(ctx context.Context, sess *Session) (string, bool) {
	if ports, err := sess.api.OpenPorts(ctx); err == nil {
		if b, ok := ports[sess.tag]; ok {
			return b.Path, true
		}
	}
	if slaves, err := sess.api.ActiveSlaves(ctx); err == nil {
		if s, ok := slaves[sess.tag]; ok {
			return s.Path, true
		}
	}
	return "", false
}

// serialProber 用请求/响应匹配识别原始串口设备
type serialProber struct {
	dev *Device
	req MatchRequest
}

func (p serialProber) Acquire(ctx context.Context) protocol.Result { return p.dev.Open(ctx) }
func (p serialProber) Probe(ctx context.Context) protocol.Result   { return p.dev.ReqResMatch(ctx, p.req).Result }
func (p serialProber) Release(ctx context.Context) protocol.Result { return p.dev.Close(ctx) }

// Discover 通过写入 req.Request 并匹配 req.Pattern 寻找设备所在的串口
func (d *Device) Discover(ctx context.Context, filter protocol.PortFilter, req MatchRequest) DiscoverResult {
	return PortDiscover(ctx, d.sess, filter, serialProber{dev: d, req: req})
}

// modbusProber 创建从站、设置节点地址后用 probe 验证
type modbusProber struct {
	m     *Modbus
	addr  int
	probe func(ctx context.Context, m *Modbus) protocol.Result
}

func (p modbusProber) Acquire(ctx context.Context) protocol.Result {
	res := p.m.Create(ctx)
	if !res.Success {
		return res
	}
	return p.m.SetNodeAddress(ctx, p.addr)
}

func (p modbusProber) Probe(ctx context.Context) protocol.Result   { return p.probe(ctx, p.m) }
func (p modbusProber) Release(ctx context.Context) protocol.Result { return p.m.Free(ctx) }

// Discover 在候选串口上依次创建从站并执行 probe（例如读取一段寄存器或设备识别）。
// 复用已有绑定时同样创建从站并设置节点地址：该绑定可能是原始串口。
func (m *Modbus) Discover(ctx context.Context, filter protocol.PortFilter, addr int, probe func(ctx context.Context, m *Modbus) protocol.Result) DiscoverResult {
	p := modbusProber{m: m, addr: addr, probe: probe}
	found := PortDiscover(ctx, m.dev.sess, filter, p)
	if !found.Reused {
		return found
	}
	if res := p.Acquire(ctx); !res.Success {
		return DiscoverResult{Port: found.Port, Reused: true, Message: fmt.Sprintf("attach slave on %s: %s", found.Port.Path, res.Text())}
	}
	return found
}
