package broker

import (
	"fmt"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/hashicorp/go-multierror"

	"github.com/linjuya-lu/serial_broker_go/internal/modbus"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
	"github.com/linjuya-lu/serial_broker_go/internal/serial"
)

// Hardware 汇集 broker 访问硬件所需的能力，测试时替换为假实现
type Hardware struct {
	OpenPort  serial.Opener
	NewSlave  modbus.Factory
	Enumerate serial.Enumerator
	// DEPins 为 RS-485 串口指定 DE/RE 引脚，键为串口路径
	DEPins map[string]int
}

// DefaultHardware 使用真实串口、goburrow RTU 与系统枚举
func DefaultHardware(dePins map[string]int) Hardware {
	return Hardware{
		OpenPort:  serial.Open,
		NewSlave:  modbus.NewRTUSlave,
		Enumerate: serial.SystemPorts,
		DEPins:    dePins,
	}
}

// Manager 实现每个 tag 的 open/close/create/free 状态机。
// 模式冲突时已有绑定总是被拆除，然后在干净的状态上重试请求的操作。
type Manager struct {
	reg   *Registry
	hw    Hardware
	ports []protocol.PortDescriptor
	watch criticalWatch
	lc    logger.LoggingClient
}

func NewManager(reg *Registry, hw Hardware, lc logger.LoggingClient) *Manager {
	return &Manager{reg: reg, hw: hw, watch: newCriticalWatch(nil, nil, lc), lc: lc}
}

// PortList 重新枚举系统串口并缓存结果
func (m *Manager) PortList() ([]protocol.PortDescriptor, error) {
	ports, err := m.hw.Enumerate()
	if err != nil {
		return nil, classify("enumerate serial ports", err)
	}
	m.ports = ports
	return ports, nil
}

// lookup 在最近一次枚举结果中查找路径与硬件标识都匹配的串口，没有缓存或未命中时重新枚举一次
func (m *Manager) lookup(desc protocol.PortDescriptor) (protocol.PortDescriptor, bool) {
	find := func() (protocol.PortDescriptor, bool) {
		for _, p := range m.ports {
			if p.Path == desc.Path && (desc.PnpID == "" || p.PnpID == desc.PnpID) {
				return p, true
			}
		}
		return protocol.PortDescriptor{}, false
	}
	if p, ok := find(); ok {
		return p, true
	}
	if _, err := m.PortList(); err != nil {
		m.lc.Errorf("refresh port list for %s: %v", desc.Path, err)
		return protocol.PortDescriptor{}, false
	}
	return find()
}

// Open 把 tag 绑定为原始串口
func (m *Manager) Open(desc protocol.PortDescriptor, cfg protocol.LineConfig) protocol.Result {
	tag := cfg.TagName
	cfg = cfg.WithDefaults()
	for {
		if slave, ok := m.reg.modbusSlave(tag); ok {
			m.lc.Infof("open-port %s: tag %s is a Modbus slave on %s, releasing it", desc.Path, tag, slave.Path())
			if err := slave.Close(); err != nil {
				m.lc.Warnf("close Modbus slave %s (%s): %v", tag, slave.Path(), err)
			}
			m.reg.removeModbusSlave(tag)
			continue
		}
		b, ok := m.reg.openPort(tag)
		if !ok {
			break
		}
		path := b.handle.Path()
		if path == desc.Path {
			if b.handle.IsOpen() {
				return protocol.OK(path, fmt.Sprintf("Opening %s: port previously open", path))
			}
			if err := b.handle.Open(); err != nil {
				m.lc.Errorf("reopen %s for tag %s: %v", path, tag, classify("reopen", err))
				return m.watch.check(tag, protocol.Fail(path, err.Error()))
			}
			return protocol.OK(path, fmt.Sprintf("Opening %s: port opened successfully", path))
		}
		m.lc.Infof("open-port: tag %s moves from %s to %s", tag, path, desc.Path)
		if err := b.handle.Close(); err != nil {
			m.lc.Warnf("close %s for tag %s: %v", path, tag, err)
		}
		m.reg.removeOpenPort(tag)
	}

	port, ok := m.lookup(desc)
	if !ok {
		m.lc.Errorf("open-port tag %s: %v", tag, notFound("no enumerated port matches "+desc.Path))
		return protocol.Fail(desc.Path, fmt.Sprintf("Opening %s: port not found", desc.Path))
	}
	m.evictPath(port.Path, tag)

	h, err := m.hw.OpenPort(serial.Config{
		Path:     port.Path,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		DEPin:    m.hw.DEPins[port.Path],
	})
	if err != nil {
		m.lc.Errorf("open-port %s for tag %s: %v", port.Path, tag, classify("open", err))
		return m.watch.check(tag, protocol.Fail(port.Path, err.Error()))
	}
	m.reg.putOpenPort(tag, &portBinding{handle: h, config: cfg})
	m.lc.Infof("New port configured: '%s' => %s", tag, port.Path)
	return protocol.OK(port.Path, fmt.Sprintf("Opening %s: port opened successfully", port.Path))
}

// evictPath 拆除其他 tag 在同一物理路径上的绑定，最近的调用者获得该路径
func (m *Manager) evictPath(path, keep string) {
	raw, mdb := m.reg.tagsOnPath(path, keep)
	for _, tag := range raw {
		b, _ := m.reg.openPort(tag)
		m.lc.Infof("tag %s takes %s from tag %s", keep, path, tag)
		if err := b.handle.Close(); err != nil {
			m.lc.Warnf("close %s for evicted tag %s: %v", path, tag, err)
		}
		m.reg.removeOpenPort(tag)
	}
	for _, tag := range mdb {
		s, _ := m.reg.modbusSlave(tag)
		m.lc.Infof("tag %s takes %s from Modbus slave %s", keep, path, tag)
		if err := s.Close(); err != nil {
			m.lc.Warnf("close Modbus slave %s for eviction: %v", tag, err)
		}
		m.reg.removeModbusSlave(tag)
	}
}

// Close 关闭并移除 tag 的原始串口绑定
func (m *Manager) Close(tag string) protocol.Result {
	b, ok := m.reg.openPort(tag)
	if !ok {
		return protocol.Fail(protocol.UnknownPath, "Closing Unknown: "+protocol.MessageNeverOpened)
	}
	defer m.reg.removeOpenPort(tag)
	path := b.handle.Path()
	if !b.handle.IsOpen() {
		return protocol.OK(path, fmt.Sprintf("Closing %s: port previously closed", path))
	}
	if err := b.handle.Close(); err != nil {
		// 句柄已不可用，绑定照样移除
		m.lc.Warnf("close %s for tag %s: %v", path, tag, err)
		return protocol.OK(path, err.Error())
	}
	return protocol.OK(path, fmt.Sprintf("Closing %s: port closed successfully", path))
}

// Read 取走接收缓冲区中的全部数据，缓冲区为空时消息为 null
func (m *Manager) Read(tag, encoding string) protocol.Result {
	b, ok := m.reg.openPort(tag)
	if !ok {
		return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverOpened)
	}
	path := b.handle.Path()
	if !b.handle.IsOpen() || !b.handle.Readable() {
		return protocol.Fail(path, "port closed or unavailable")
	}
	data := b.handle.Drain()
	if data == nil {
		return protocol.OK(path, nil)
	}
	s, err := protocol.EncodeBytes(data, encoding)
	if err != nil {
		return protocol.Fail(path, err.Error())
	}
	return protocol.OK(path, s)
}

// Write 按编码写入内容，成功时回显 content
func (m *Manager) Write(tag string, msg protocol.WriteMessage) protocol.Result {
	b, ok := m.reg.openPort(tag)
	if !ok {
		return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverOpened)
	}
	path := b.handle.Path()
	if !b.handle.IsOpen() || !b.handle.Writable() {
		return protocol.Fail(path, "port closed or unavailable")
	}
	data, err := protocol.DecodeContent(msg.Content, msg.Encoding)
	if err != nil {
		return protocol.Fail(path, err.Error())
	}
	if _, err := b.handle.Write(data); err != nil {
		m.lc.Errorf("tx-buffer %s for tag %s: %v", path, tag, classify("write", err))
		return m.watch.check(tag, protocol.Fail(path, err.Error()))
	}
	return protocol.OK(path, msg.Content)
}

// CreateModbusSlave 把 tag 绑定为 Modbus 从站，连接失败时不保留任何绑定
func (m *Manager) CreateModbusSlave(desc protocol.PortDescriptor, cfg protocol.LineConfig) protocol.Result {
	tag := cfg.TagName
	cfg = cfg.WithDefaults()

	slave, ok := m.reg.modbusSlave(tag)
	if !ok {
		if m.reg.HasOpenPort(tag) {
			m.lc.Infof("create-mdb-slave: tag %s is a raw port, closing it", tag)
			m.Close(tag)
		}
		m.evictPath(desc.Path, tag)
		slave = m.hw.NewSlave(modbus.Config{
			Path:     desc.Path,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			Parity:   cfg.Parity,
		})
		m.reg.putModbusSlave(tag, slave)
		if err := slave.Open(); err != nil {
			m.reg.removeModbusSlave(tag)
			m.lc.Errorf("create-mdb-slave %s for tag %s: %v", desc.Path, tag, classify("connect", err))
			return m.watch.check(tag, protocol.Fail(desc.Path, "failed to create slave: "+err.Error()))
		}
		return protocol.OK(desc.Path, "slave created successfully")
	}

	if slave.IsOpen() {
		return protocol.OK(slave.Path(), "slave already created and open")
	}
	if err := slave.Open(); err != nil {
		m.lc.Errorf("reconnect Modbus slave %s (%s): %v", tag, slave.Path(), classify("connect", err))
		return m.watch.check(tag, protocol.Fail(slave.Path(), "failed to create slave: "+err.Error()))
	}
	return protocol.OK(slave.Path(), "slave created successfully")
}

// OpenModbusSlave 重新连接已存在的从站绑定
func (m *Manager) OpenModbusSlave(tag string) protocol.Result {
	slave, ok := m.reg.modbusSlave(tag)
	if !ok {
		return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverCreated)
	}
	if slave.IsOpen() {
		return protocol.OK(slave.Path(), "slave already open")
	}
	if err := slave.Open(); err != nil {
		m.lc.Errorf("open-mdb-slave %s (%s): %v", tag, slave.Path(), classify("connect", err))
		return m.watch.check(tag, protocol.Fail(slave.Path(), err.Error()))
	}
	return protocol.OK(slave.Path(), "slave opened successfully")
}

// CloseModbusSlave 断开传输层但保留绑定
func (m *Manager) CloseModbusSlave(tag string) protocol.Result {
	slave, ok := m.reg.modbusSlave(tag)
	if !ok {
		return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverCreated)
	}
	if !slave.IsOpen() {
		return protocol.OK(slave.Path(), "slave already closed")
	}
	if err := slave.Close(); err != nil {
		m.lc.Errorf("close-mdb-slave %s (%s): %v", tag, slave.Path(), classify("close", err))
		return protocol.Fail(slave.Path(), err.Error())
	}
	return protocol.OK(slave.Path(), "slave closed successfully")
}

// FreeModbusSlave 断开并移除绑定，tag 回到未绑定状态
func (m *Manager) FreeModbusSlave(tag string) protocol.Result {
	slave, ok := m.reg.modbusSlave(tag)
	if !ok {
		return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverCreated)
	}
	m.reg.removeModbusSlave(tag)
	if err := slave.Close(); err != nil {
		m.lc.Warnf("free-mdb-slave %s (%s): %v", tag, slave.Path(), err)
		return protocol.OK(slave.Path(), err.Error())
	}
	return protocol.OK(slave.Path(), "slave released successfully")
}

// CloseAll 在退出时关闭所有绑定
func (m *Manager) CloseAll() error {
	var result *multierror.Error
	for tag, b := range m.reg.ports {
		if err := b.handle.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close port %s (%s): %w", tag, b.handle.Path(), err))
		}
		m.reg.removeOpenPort(tag)
	}
	for tag, s := range m.reg.slaves {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close slave %s (%s): %w", tag, s.Path(), err))
		}
		m.reg.removeModbusSlave(tag)
	}
	return result.ErrorOrNil()
}
