package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/serial_broker_go/internal/modbus"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
	"github.com/linjuya-lu/serial_broker_go/internal/race"
)

// DefaultModbusTimeout 是每个寄存器操作与计时器赛跑的时长
const DefaultModbusTimeout = 200 * time.Millisecond

// Call 是在事件循环上解析好绑定、在循环外执行的硬件操作
type Call func(ctx context.Context) protocol.Result

func resolved(r protocol.Result) Call {
	return func(context.Context) protocol.Result { return r }
}

// Executor 对已存在的从站绑定执行寄存器读写与设备识别
type Executor struct {
	reg     *Registry
	pool    race.Submitter
	timeout time.Duration
	watch   criticalWatch
	lc      logger.LoggingClient
}

// ExecutorConfig 配置寄存器操作；CriticalErrors 与 Alerter 也用于原始串口命令
type ExecutorConfig struct {
	Pool           race.Submitter
	Timeout        time.Duration
	CriticalErrors []string
	Alerter        Alerter
}

func NewExecutor(reg *Registry, cfg ExecutorConfig, lc logger.LoggingClient) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultModbusTimeout
	}
	return &Executor{
		reg:     reg,
		pool:    cfg.Pool,
		timeout: cfg.Timeout,
		watch:   newCriticalWatch(cfg.CriticalErrors, cfg.Alerter, lc),
		lc:      lc,
	}
}

var neverCreated = protocol.Fail(protocol.UnknownPath, protocol.MessageNeverCreated)

// SetNodeAddress 只修改后续 PDU 使用的节点地址，不经过线路，因此没有超时分支
func (e *Executor) SetNodeAddress(tag string, addr int) protocol.Result {
	slave, ok := e.reg.modbusSlave(tag)
	if !ok {
		return neverCreated
	}
	if err := slave.SetNodeAddress(addr); err != nil {
		return protocol.Fail(slave.Path(), "failed to set node address: "+err.Error()).WithAddr(addr)
	}
	return protocol.OK(slave.Path(), fmt.Sprintf("node address set to %d", addr)).WithAddr(addr)
}

// run 在绑定存在时返回一个与超时赛跑的调用
func run[T any](e *Executor, op, tag string, fn func(s modbus.Slave) (T, error)) Call {
	slave, ok := e.reg.modbusSlave(tag)
	if !ok {
		return resolved(neverCreated)
	}
	path := slave.Path()
	return func(ctx context.Context) protocol.Result {
		v, err := race.Do(ctx, e.pool, e.timeout, func() (T, error) { return fn(slave) })
		if err != nil {
			return e.failure(op, tag, path, err)
		}
		return protocol.OK(path, v)
	}
}

func (e *Executor) failure(op, tag, path string, err error) protocol.Result {
	if err == race.ErrTimeout {
		e.lc.Warnf("%s on %s (tag %s): %v", op, path, tag, classify("modbus "+op, err))
		return protocol.Timeout(path)
	}
	e.lc.Errorf("%s on %s (tag %s): %v", op, path, tag, classify("modbus "+op, err))
	return e.watch.check(tag, protocol.Fail(path, err.Error()))
}

func (e *Executor) ReadInputRegisters(tag string, start, qty int) Call {
	return run(e, protocol.CmdReadInputRegisters, tag, func(s modbus.Slave) ([]uint16, error) {
		return s.ReadInputRegisters(uint16(start), uint16(qty))
	})
}

func (e *Executor) ReadHoldingRegisters(tag string, start, qty int) Call {
	return run(e, protocol.CmdReadHoldingRegisters, tag, func(s modbus.Slave) ([]uint16, error) {
		return s.ReadHoldingRegisters(uint16(start), uint16(qty))
	})
}

// WriteAck 是寄存器写入成功后的确认消息
type WriteAck struct {
	Address int `json:"address"`
	Value   int `json:"value,omitempty"`
	Length  int `json:"length,omitempty"`
}

func (e *Executor) WriteRegister(tag string, addr, value int) Call {
	return run(e, protocol.CmdWriteHoldingRegister, tag, func(s modbus.Slave) (WriteAck, error) {
		return WriteAck{Address: addr, Value: value}, s.WriteRegister(uint16(addr), uint16(value))
	})
}

func (e *Executor) WriteRegisters(tag string, start int, values []int) Call {
	words := make([]uint16, len(values))
	for i, v := range values {
		words[i] = uint16(v)
	}
	return run(e, protocol.CmdWriteHoldingRegs, tag, func(s modbus.Slave) (WriteAck, error) {
		return WriteAck{Address: start, Length: len(words)}, s.WriteRegisters(uint16(start), words)
	})
}

func (e *Executor) ReadDeviceIdentification(tag string, idCode, objectID int) Call {
	return run(e, protocol.CmdReadDeviceID, tag, func(s modbus.Slave) (modbus.DeviceIdentification, error) {
		return s.ReadDeviceIdentification(byte(idCode), byte(objectID))
	})
}
