package client

import (
	"context"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// Modbus 在 Device 之上提供 Modbus 从站的寄存器操作。
// 生命周期命令（create/open/close/free）不重试，寄存器与设备识别操作按 Device 的策略重试。
type Modbus struct {
	dev  *Device
	api  Requester
	addr int
}

func NewModbus(dev *Device) *Modbus {
	return &Modbus{dev: dev, api: dev.sess.api, addr: -1}
}

func (m *Modbus) Device() *Device { return m.dev }

func (m *Modbus) tag() string { return m.dev.sess.tag }

// NodeAddress 返回最近一次成功设置的节点地址，未设置时为 -1
func (m *Modbus) NodeAddress() int { return m.addr }

func (m *Modbus) once(ctx context.Context, cmd string, payload any) protocol.Result {
	return m.dev.Exclusive(ctx, func(ctx context.Context) protocol.Result {
		return m.api.Do(ctx, cmd, payload)
	})
}

func (m *Modbus) retried(ctx context.Context, cmd string, payload any) protocol.Result {
	return m.dev.Retry(ctx, cmd, func(ctx context.Context) protocol.Result {
		return m.api.Do(ctx, cmd, payload)
	})
}

func (m *Modbus) Create(ctx context.Context) protocol.Result {
	if m.dev.sess.port.Path == "" {
		return protocol.Fail(protocol.UnknownPath, "no serial port assigned to "+m.tag())
	}
	return m.once(ctx, protocol.CmdCreateModbus, m.dev.sess.openRequest())
}

func (m *Modbus) Open(ctx context.Context) protocol.Result {
	return m.once(ctx, protocol.CmdOpenModbus, protocol.TagRequest{TagName: m.tag()})
}

func (m *Modbus) Close(ctx context.Context) protocol.Result {
	return m.once(ctx, protocol.CmdCloseModbus, protocol.TagRequest{TagName: m.tag()})
}

func (m *Modbus) Free(ctx context.Context) protocol.Result {
	return m.once(ctx, protocol.CmdFreeModbus, protocol.TagRequest{TagName: m.tag()})
}

func (m *Modbus) SetNodeAddress(ctx context.Context, addr int) protocol.Result {
	res := m.once(ctx, protocol.CmdSetNodeAddress, protocol.NodeAddressRequest{TagName: m.tag(), NodeAddress: addr})
	if res.Success {
		m.addr = addr
	}
	return res
}

func (m *Modbus) ReadInputRegisters(ctx context.Context, start, qty int) protocol.Result {
	return m.retried(ctx, protocol.CmdReadInputRegisters, protocol.RegisterReadRequest{TagName: m.tag(), StartAddress: start, Qty: qty})
}

func (m *Modbus) ReadHoldingRegisters(ctx context.Context, start, qty int) protocol.Result {
	return m.retried(ctx, protocol.CmdReadHoldingRegisters, protocol.RegisterReadRequest{TagName: m.tag(), StartAddress: start, Qty: qty})
}

func (m *Modbus) WriteSingleRegister(ctx context.Context, addr, value int) protocol.Result {
	return m.retried(ctx, protocol.CmdWriteHoldingRegister, protocol.RegisterWriteRequest{TagName: m.tag(), StartAddress: addr, Value: value})
}

func (m *Modbus) WriteMultipleRegisters(ctx context.Context, start int, values []int) protocol.Result {
	return m.retried(ctx, protocol.CmdWriteHoldingRegs, protocol.RegistersWriteRequest{TagName: m.tag(), StartAddress: start, ArrValues: values})
}

func (m *Modbus) ReadDeviceIdentification(ctx context.Context, idCode, objectID int) protocol.Result {
	return m.retried(ctx, protocol.CmdReadDeviceID, protocol.DeviceIDRequest{TagName: m.tag(), IDCode: idCode, ObjectID: objectID})
}
