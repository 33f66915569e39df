// Package broker 是独占串口硬件的一方：维护 tag 到原始串口 / Modbus 从站的绑定，
// 按命令名分发 RPC 请求，并通过 WebSocket 或 MQTT 回送带相同 token 的响应。
package broker

import (
	"sort"

	"github.com/linjuya-lu/serial_broker_go/internal/modbus"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
	"github.com/linjuya-lu/serial_broker_go/internal/serial"
)

// portBinding 是 tag 与原始串口句柄的关联
type portBinding struct {
	handle serial.Handle
	config protocol.LineConfig
}

func (b *portBinding) summary() protocol.PortSummary {
	return protocol.PortSummary{
		Path:     b.handle.Path(),
		BaudRate: b.config.BaudRate,
		Parity:   b.config.Parity,
		IsOpen:   b.handle.IsOpen(),
		Readable: b.handle.Readable(),
		Writable: b.handle.Writable(),
	}
}

// Registry 是两张以 tag 为键的表。它不做任何不变量检查，
// 也不加锁：所有读写都发生在 broker 的事件循环上。
type Registry struct {
	ports  map[string]*portBinding
	slaves map[string]modbus.Slave
}

func NewRegistry() *Registry {
	return &Registry{
		ports:  make(map[string]*portBinding),
		slaves: make(map[string]modbus.Slave),
	}
}

func (r *Registry) HasOpenPort(tag string) bool {
	_, ok := r.ports[tag]
	return ok
}

func (r *Registry) HasModbusSlave(tag string) bool {
	_, ok := r.slaves[tag]
	return ok
}

func (r *Registry) openPort(tag string) (*portBinding, bool) {
	b, ok := r.ports[tag]
	return b, ok
}

func (r *Registry) modbusSlave(tag string) (modbus.Slave, bool) {
	s, ok := r.slaves[tag]
	return s, ok
}

func (r *Registry) putOpenPort(tag string, b *portBinding) { r.ports[tag] = b }
func (r *Registry) removeOpenPort(tag string)             { delete(r.ports, tag) }

func (r *Registry) putModbusSlave(tag string, s modbus.Slave) { r.slaves[tag] = s }
func (r *Registry) removeModbusSlave(tag string)             { delete(r.slaves, tag) }

// tagsOnPath 返回除 except 外所有绑定在 path 上的 tag，按字典序
func (r *Registry) tagsOnPath(path, except string) (raw, mdb []string) {
	for tag, b := range r.ports {
		if tag != except && b.handle.Path() == path {
			raw = append(raw, tag)
		}
	}
	for tag, s := range r.slaves {
		if tag != except && s.Path() == path {
			mdb = append(mdb, tag)
		}
	}
	sort.Strings(raw)
	sort.Strings(mdb)
	return raw, mdb
}

// OpenPorts 返回 get-openports 的 tag → 摘要
func (r *Registry) OpenPorts() map[string]protocol.PortSummary {
	out := make(map[string]protocol.PortSummary, len(r.ports))
	for tag, b := range r.ports {
		out[tag] = b.summary()
	}
	return out
}

// ActiveSlaves 返回 active-slave 的 tag → 摘要
func (r *Registry) ActiveSlaves() map[string]protocol.SlaveSummary {
	out := make(map[string]protocol.SlaveSummary, len(r.slaves))
	for tag, s := range r.slaves {
		out[tag] = protocol.SlaveSummary{Path: s.Path(), NodeAddress: s.NodeAddress(), IsOpen: s.IsOpen()}
	}
	return out
}
