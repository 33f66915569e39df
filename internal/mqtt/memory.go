package mqtt

import (
	"strings"
	"sync"
)

// MemoryBus 是进程内的发布/订阅实现，支持 + 与 # 通配符，用于测试与单进程部署
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]func([]byte)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]func([]byte))}
}

// Conn 返回一个连接到总线的 Conn
func (b *MemoryBus) Conn() Conn { return memoryConn{b} }

type memoryConn struct{ bus *MemoryBus }

func (c memoryConn) Publish(topic string, payload []byte) error {
	c.bus.mu.RLock()
	var targets []func([]byte)
	for filter, hs := range c.bus.subs {
		if Match(filter, topic) {
			targets = append(targets, hs...)
		}
	}
	c.bus.mu.RUnlock()
	for _, h := range targets {
		// paho 在自己的协程中回调，这里保持一致
		msg := append([]byte(nil), payload...)
		go h(msg)
	}
	return nil
}

func (c memoryConn) Subscribe(topic string, handler func([]byte)) error {
	c.bus.mu.Lock()
	defer c.bus.mu.Unlock()
	c.bus.subs[topic] = append(c.bus.subs[topic], handler)
	return nil
}

func (c memoryConn) Disconnect(uint) {}

// Match 判断主题是否匹配订阅过滤器
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
