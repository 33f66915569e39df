package modbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goburrow/modbus"
)

// DefaultTimeout 是单次 RTU 事务的底层读超时；broker 另有更短的业务超时
const DefaultTimeout = time.Second

// RTUSlave 基于 goburrow/modbus 的 RTU 实现。
// 同一时刻只有一个事务在线路上；节点地址在每次事务开始时写入 handler。
type RTUSlave struct {
	cfg     Config
	handler *modbus.RTUClientHandler
	client  modbus.Client

	txMu sync.Mutex
	open atomic.Bool
	addr atomic.Int32
}

// NewRTUSlave 是默认的 Factory
func NewRTUSlave(cfg Config) Slave {
	h := modbus.NewRTUClientHandler(cfg.Path)
	h.BaudRate = cfg.BaudRate
	h.DataBits = cfg.DataBits
	h.StopBits = 1
	h.Timeout = DefaultTimeout
	s := &RTUSlave{cfg: cfg, handler: h, client: modbus.NewClient(h)}
	s.addr.Store(DefaultNodeAddress)
	return s
}

func (s *RTUSlave) Path() string     { return s.cfg.Path }
func (s *RTUSlave) IsOpen() bool     { return s.open.Load() }
func (s *RTUSlave) NodeAddress() int { return int(s.addr.Load()) }

func (s *RTUSlave) Open() error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if s.open.Load() {
		return nil
	}
	parity, err := rtuParity(s.cfg.Parity)
	if err != nil {
		return err
	}
	s.handler.Parity = parity
	if err := s.handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", s.cfg.Path, err)
	}
	s.open.Store(true)
	return nil
}

func (s *RTUSlave) Close() error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if !s.open.Load() {
		return nil
	}
	s.open.Store(false)
	return s.handler.Close()
}

func (s *RTUSlave) SetNodeAddress(addr int) error {
	if err := checkNodeAddress(addr); err != nil {
		return err
	}
	s.addr.Store(int32(addr))
	return nil
}

// transact 在持有线路锁的情况下执行一次事务。
// goburrow 的 transporter 会在 Send 时自动重连，这里先检查打开状态以保留关闭语义。
func (s *RTUSlave) transact(fn func() error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if !s.open.Load() {
		return ErrNotOpen
	}
	s.handler.SlaveId = byte(s.addr.Load())
	return fn()
}

func (s *RTUSlave) readRegisters(read func(address, quantity uint16) ([]byte, error), start, qty uint16) ([]uint16, error) {
	var words []uint16
	err := s.transact(func() error {
		b, err := read(start, qty)
		if err != nil {
			return err
		}
		words, err = bytesToWords(b)
		return err
	})
	return words, err
}

func (s *RTUSlave) ReadInputRegisters(start, qty uint16) ([]uint16, error) {
	return s.readRegisters(s.client.ReadInputRegisters, start, qty)
}

func (s *RTUSlave) ReadHoldingRegisters(start, qty uint16) ([]uint16, error) {
	return s.readRegisters(s.client.ReadHoldingRegisters, start, qty)
}

func (s *RTUSlave) WriteRegister(addr, value uint16) error {
	return s.transact(func() error {
		_, err := s.client.WriteSingleRegister(addr, value)
		return err
	})
}

func (s *RTUSlave) WriteRegisters(start uint16, values []uint16) error {
	return s.transact(func() error {
		_, err := s.client.WriteMultipleRegisters(start, uint16(len(values)), wordsToBytes(values))
		return err
	})
}

// ReadDeviceIdentification 发送 FC 0x2B / MEI 0x0E，goburrow 的 Client 没有提供该功能码，
// 所以直接使用 handler 的 Encode/Send/Verify/Decode。
func (s *RTUSlave) ReadDeviceIdentification(idCode, objectID byte) (DeviceIdentification, error) {
	var out DeviceIdentification
	err := s.transact(func() error {
		req := &modbus.ProtocolDataUnit{FunctionCode: funcCodeEncapsulated, Data: deviceIDRequest(idCode, objectID)}
		adu, err := s.handler.Encode(req)
		if err != nil {
			return err
		}
		raw, err := s.handler.Send(adu)
		if err != nil {
			return err
		}
		if err := s.handler.Verify(adu, raw); err != nil {
			return err
		}
		resp, err := s.handler.Decode(raw)
		if err != nil {
			return err
		}
		if resp.FunctionCode != funcCodeEncapsulated {
			if resp.FunctionCode == funcCodeEncapsulated|0x80 && len(resp.Data) > 0 {
				return &modbus.ModbusError{FunctionCode: resp.FunctionCode, ExceptionCode: resp.Data[0]}
			}
			return fmt.Errorf("unexpected function code 0x%02X", resp.FunctionCode)
		}
		out, err = parseDeviceID(resp.Data)
		return err
	})
	return out, err
}

func rtuParity(p string) (string, error) {
	switch p {
	case "", "none":
		return "N", nil
	case "even":
		return "E", nil
	case "odd":
		return "O", nil
	}
	return "", fmt.Errorf("parity %q is not supported for Modbus RTU", p)
}
