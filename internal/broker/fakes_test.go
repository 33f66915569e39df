package broker

import (
	"errors"
	"sync"
	"time"

	"github.com/linjuya-lu/serial_broker_go/internal/modbus"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
	"github.com/linjuya-lu/serial_broker_go/internal/serial"
)

// FakePort 是回环串口：写入的字节出现在接收缓冲区
type FakePort struct {
	mu     sync.Mutex
	cfg    serial.Config
	open   bool
	rx     []byte
	writes [][]byte
	wErr   error
}

func (p *FakePort) Path() string { return p.cfg.Path }

func (p *FakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *FakePort) Readable() bool { return p.IsOpen() }
func (p *FakePort) Writable() bool { return p.IsOpen() }

func (p *FakePort) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	return nil
}

func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return 0, errors.New("port is closed")
	}
	if p.wErr != nil {
		return 0, p.wErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	p.rx = append(p.rx, b...)
	return len(b), nil
}

func (p *FakePort) Drain() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.rx
	p.rx = nil
	return out
}

// FailWrites 让之后的写入返回 err
func (p *FakePort) FailWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wErr = err
}

// Inject 模拟设备发来的数据
func (p *FakePort) Inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = append(p.rx, b...)
}

// FakeSlave 是内存中的 Modbus 从站
type FakeSlave struct {
	mu      sync.Mutex
	cfg     modbus.Config
	open    bool
	addr    int
	regs    map[uint16]uint16
	delay   time.Duration
	err     error
	calls   int
	connErr error
	seen    []int
}

func (s *FakeSlave) Path() string { return s.cfg.Path }

func (s *FakeSlave) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *FakeSlave) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connErr != nil {
		return s.connErr
	}
	s.open = true
	return nil
}

func (s *FakeSlave) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *FakeSlave) NodeAddress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *FakeSlave) SetNodeAddress(addr int) error {
	if addr < 0 || addr > modbus.MaxNodeAddress {
		return errors.New("node address out of range")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr = addr
	return nil
}

// Behave 设置后续调用的延迟与错误
func (s *FakeSlave) Behave(delay time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
	s.err = err
}

func (s *FakeSlave) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// SeenAddrs 返回每次事务使用的节点地址
func (s *FakeSlave) SeenAddrs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.seen...)
}

func (s *FakeSlave) begin() error {
	s.mu.Lock()
	s.calls++
	s.seen = append(s.seen, s.addr)
	delay, err, open := s.delay, s.err, s.open
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if !open {
		return modbus.ErrNotOpen
	}
	return err
}

func (s *FakeSlave) read(start, qty uint16) ([]uint16, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint16, qty)
	for i := range out {
		out[i] = s.regs[start+uint16(i)]
	}
	return out, nil
}

func (s *FakeSlave) ReadInputRegisters(start, qty uint16) ([]uint16, error) {
	return s.read(start, qty)
}

func (s *FakeSlave) ReadHoldingRegisters(start, qty uint16) ([]uint16, error) {
	return s.read(start, qty)
}

func (s *FakeSlave) WriteRegister(addr, value uint16) error {
	return s.WriteRegisters(addr, []uint16{value})
}

func (s *FakeSlave) WriteRegisters(start uint16, values []uint16) error {
	if err := s.begin(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range values {
		s.regs[start+uint16(i)] = v
	}
	return nil
}

func (s *FakeSlave) ReadDeviceIdentification(idCode, objectID byte) (modbus.DeviceIdentification, error) {
	if err := s.begin(); err != nil {
		return modbus.DeviceIdentification{}, err
	}
	return modbus.DeviceIdentification{ConformityLevel: int(idCode), Objects: map[int]string{int(objectID): "FAKE"}}, nil
}

// FakeHardware 记录 broker 创建的所有句柄与从站
type FakeHardware struct {
	mu      sync.Mutex
	ports   []protocol.PortDescriptor
	handles map[string][]*FakePort
	slaves  map[string][]*FakeSlave
	openErr map[string]error
	connErr map[string]error
}

func NewFakeHardware(paths ...string) *FakeHardware {
	f := &FakeHardware{
		handles: make(map[string][]*FakePort),
		slaves:  make(map[string][]*FakeSlave),
		openErr: make(map[string]error),
		connErr: make(map[string]error),
	}
	for _, p := range paths {
		f.ports = append(f.ports, protocol.PortDescriptor{Path: p, PnpID: "PNP-" + p, SerialNumber: "SN-" + p})
	}
	return f
}

func (f *FakeHardware) Hardware() Hardware {
	return Hardware{
		OpenPort: func(cfg serial.Config) (serial.Handle, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if err := f.openErr[cfg.Path]; err != nil {
				return nil, err
			}
			p := &FakePort{cfg: cfg, open: true}
			f.handles[cfg.Path] = append(f.handles[cfg.Path], p)
			return p, nil
		},
		NewSlave: func(cfg modbus.Config) modbus.Slave {
			f.mu.Lock()
			defer f.mu.Unlock()
			s := &FakeSlave{cfg: cfg, addr: modbus.DefaultNodeAddress, regs: make(map[uint16]uint16), connErr: f.connErr[cfg.Path]}
			f.slaves[cfg.Path] = append(f.slaves[cfg.Path], s)
			return s
		},
		Enumerate: func() ([]protocol.PortDescriptor, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			return append([]protocol.PortDescriptor(nil), f.ports...), nil
		},
	}
}

// Descriptor 返回一个已枚举串口的描述
func (f *FakeHardware) Descriptor(path string) protocol.PortDescriptor {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.ports {
		if p.Path == path {
			return p
		}
	}
	return protocol.PortDescriptor{Path: path}
}

// LastPort 返回最近为 path 打开的句柄
func (f *FakeHardware) LastPort(path string) *FakePort {
	f.mu.Lock()
	defer f.mu.Unlock()
	hs := f.handles[path]
	if len(hs) == 0 {
		return nil
	}
	return hs[len(hs)-1]
}

// LastSlave 返回最近为 path 创建的从站
func (f *FakeHardware) LastSlave(path string) *FakeSlave {
	f.mu.Lock()
	defer f.mu.Unlock()
	ss := f.slaves[path]
	if len(ss) == 0 {
		return nil
	}
	return ss[len(ss)-1]
}

func (f *FakeHardware) FailOpen(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr[path] = err
}

func (f *FakeHardware) FailConnect(path string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connErr[path] = err
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(tag, path, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, tag+"@"+path+": "+msg)
}

func (a *recordingAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}

// ackConn 模拟 QoS 1 的 paho 连接：订阅回调与 PUBACK 在同一个入站协程上依次处理，
// Publish 等到自己的 PUBACK 被处理或 ackWait 超时才返回
type ackConn struct {
	inbound   chan func()
	handler   func([]byte)
	published chan []byte
	ackWait   time.Duration
}

func newAckConn(ackWait time.Duration) *ackConn {
	c := &ackConn{
		inbound:   make(chan func(), 32),
		published: make(chan []byte, 32),
		ackWait:   ackWait,
	}
	go func() {
		for f := range c.inbound {
			f()
		}
	}()
	return c
}

func (c *ackConn) Subscribe(_ string, handler func([]byte)) error {
	c.handler = handler
	return nil
}

// deliver 把一条请求放进入站队列
func (c *ackConn) deliver(payload []byte) {
	c.inbound <- func() { c.handler(payload) }
}

func (c *ackConn) Publish(_ string, payload []byte) error {
	ack := make(chan struct{})
	c.inbound <- func() { close(ack) }
	select {
	case <-ack:
		c.published <- payload
		return nil
	case <-time.After(c.ackWait):
		return errors.New("puback timeout")
	}
}

func (c *ackConn) Disconnect(uint) {}
