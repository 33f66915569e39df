package driver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"
	"go.viam.com/test"

	"github.com/linjuya-lu/serial_broker_go/internal/config"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// fakeBroker 在内存中模拟 broker 的从站命令
type fakeBroker struct {
	mu      sync.Mutex
	ports   []protocol.PortDescriptor
	slaves  map[string]string // tag → path
	raw     map[string]string // 原始串口绑定，tag → path
	addrs   map[string]int
	regs    map[uint16]uint16
	input   map[uint16]uint16
	online  map[string]bool // 有设备应答的串口
	history []string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		ports: []protocol.PortDescriptor{
			{Path: "/dev/ttyUSB0", PnpID: "PNP-A"},
			{Path: "/dev/ttyUSB1", PnpID: "PNP-B"},
		},
		slaves: map[string]string{},
		raw:    map[string]string{},
		addrs:  map[string]int{},
		regs:   map[uint16]uint16{},
		input:  map[uint16]uint16{},
		online: map[string]bool{"/dev/ttyUSB0": true, "/dev/ttyUSB1": true},
	}
}

func (f *fakeBroker) PortList(context.Context) ([]protocol.PortDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.PortDescriptor(nil), f.ports...), nil
}

func (f *fakeBroker) OpenPorts(context.Context) (map[string]protocol.PortSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]protocol.PortSummary{}
	for tag, path := range f.raw {
		out[tag] = protocol.PortSummary{Path: path, IsOpen: true}
	}
	return out, nil
}

func (f *fakeBroker) ActiveSlaves(context.Context) (map[string]protocol.SlaveSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]protocol.SlaveSummary{}
	for tag, path := range f.slaves {
		out[tag] = protocol.SlaveSummary{Path: path, NodeAddress: f.addrs[tag], IsOpen: true}
	}
	return out, nil
}

func (f *fakeBroker) Do(_ context.Context, cmd string, payload any) protocol.Result {
	raw, _ := json.Marshal(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, cmd)

	var tagged struct {
		TagName string `json:"tagName"`
	}
	_ = json.Unmarshal(raw, &tagged)
	path, created := f.slaves[tagged.TagName]

	switch cmd {
	case protocol.CmdCreateModbus:
		var req protocol.OpenRequest
		_ = json.Unmarshal(raw, &req)
		delete(f.raw, req.Config.TagName)
		f.slaves[req.Config.TagName] = req.PortInfo.Path
		return protocol.OK(req.PortInfo.Path, "slave created successfully")
	case protocol.CmdFreeModbus:
		if !created {
			return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverCreated)
		}
		delete(f.slaves, tagged.TagName)
		return protocol.OK(path, "slave released successfully")
	}
	if !created {
		return protocol.Fail(protocol.UnknownPath, protocol.MessageNeverCreated)
	}
	switch cmd {
	case protocol.CmdSetNodeAddress:
		var req protocol.NodeAddressRequest
		_ = json.Unmarshal(raw, &req)
		f.addrs[req.TagName] = req.NodeAddress
		return protocol.OK(path, "ok").WithAddr(req.NodeAddress)
	case protocol.CmdReadHoldingRegisters, protocol.CmdReadInputRegisters:
		if !f.online[path] {
			return protocol.Timeout(path)
		}
		var req protocol.RegisterReadRequest
		_ = json.Unmarshal(raw, &req)
		bank := f.regs
		if cmd == protocol.CmdReadInputRegisters {
			bank = f.input
		}
		out := make([]uint16, req.Qty)
		for i := range out {
			out[i] = bank[uint16(req.StartAddress+i)]
		}
		return protocol.OK(path, out)
	case protocol.CmdWriteHoldingRegister:
		var req protocol.RegisterWriteRequest
		_ = json.Unmarshal(raw, &req)
		f.regs[uint16(req.StartAddress)] = uint16(req.Value)
		return protocol.OK(path, map[string]int{"address": req.StartAddress, "value": req.Value})
	case protocol.CmdWriteHoldingRegs:
		var req protocol.RegistersWriteRequest
		_ = json.Unmarshal(raw, &req)
		for i, v := range req.ArrValues {
			f.regs[uint16(req.StartAddress+i)] = uint16(v)
		}
		return protocol.OK(path, map[string]int{"address": req.StartAddress, "length": len(req.ArrValues)})
	}
	return protocol.Fail(path, "unsupported "+cmd)
}

func (f *fakeBroker) count(cmd string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.history {
		if c == cmd {
			n++
		}
	}
	return n
}

func testDriver(api *fakeBroker) *Driver {
	cfg := config.Default()
	cfg.Client.MaxTries = 2
	return newDriver(api, cfg, logger.NewMockClient())
}

func inverter(path string, node int) map[string]models.ProtocolProperties {
	props := models.ProtocolProperties{"tag": "INV1", "baudRate": "19200", "parity": "EVEN", "nodeAddress": node}
	if path != "" {
		props["path"] = path
	}
	return map[string]models.ProtocolProperties{"serialbroker": props}
}

func TestAddDeviceCreatesSlave(t *testing.T) {
	fb := newFakeBroker()
	d := testDriver(fb)

	test.That(t, d.AddDevice("inverter", inverter("/dev/ttyUSB0", 5), models.Unlocked), test.ShouldBeNil)
	test.That(t, fb.slaves["INV1"], test.ShouldEqual, "/dev/ttyUSB0")
	test.That(t, fb.addrs["INV1"], test.ShouldEqual, 5)

	dev, err := d.db.Get("inverter")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.props.BaudRate, test.ShouldEqual, 19200)
	test.That(t, dev.props.Parity, test.ShouldEqual, "even")

	// 重复添加不会再次创建
	test.That(t, d.AddDevice("inverter", inverter("/dev/ttyUSB0", 5), models.Unlocked), test.ShouldBeNil)
	test.That(t, fb.count(protocol.CmdCreateModbus), test.ShouldEqual, 1)

	test.That(t, d.RemoveDevice("inverter", nil), test.ShouldBeNil)
	_, still := fb.slaves["INV1"]
	test.That(t, still, test.ShouldBeFalse)
	_, err = d.db.Get("inverter")
	test.That(t, errors.Kind(err), test.ShouldEqual, errors.KindEntityDoesNotExist)
}

func TestAddDeviceDiscoversByPnpID(t *testing.T) {
	fb := newFakeBroker()
	d := testDriver(fb)
	protocols := map[string]models.ProtocolProperties{
		"serialbroker": {"pnpId": "PNP-B", "nodeAddress": 3},
	}

	test.That(t, d.AddDevice("meter", protocols, models.Unlocked), test.ShouldBeNil)
	dev, err := d.db.Get("meter")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dev.props.Path, test.ShouldEqual, "/dev/ttyUSB1")
	test.That(t, dev.props.Tag, test.ShouldEqual, "meter")
	test.That(t, fb.addrs["meter"], test.ShouldEqual, 3)
}

func TestAddDeviceReusesRawBindingAsSlave(t *testing.T) {
	fb := newFakeBroker()
	fb.raw["meter"] = "/dev/ttyUSB1"
	fb.regs[0] = 7
	d := testDriver(fb)
	protocols := map[string]models.ProtocolProperties{
		"serialbroker": {"pnpId": "PNP-B", "nodeAddress": 3},
	}

	test.That(t, d.AddDevice("meter", protocols, models.Unlocked), test.ShouldBeNil)
	test.That(t, fb.count(protocol.CmdCreateModbus), test.ShouldEqual, 1)
	test.That(t, fb.slaves["meter"], test.ShouldEqual, "/dev/ttyUSB1")
	test.That(t, fb.addrs["meter"], test.ShouldEqual, 3)
	_, stillRaw := fb.raw["meter"]
	test.That(t, stillRaw, test.ShouldBeFalse)

	cvs, err := d.HandleReadCommands("meter", protocols, []dsModels.CommandRequest{
		{DeviceResourceName: "power", Type: common.ValueTypeUint16, Attributes: map[string]any{"startAddress": 0}},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cvs[0].Value, test.ShouldEqual, uint16(7))
}

func TestReadCommands(t *testing.T) {
	fb := newFakeBroker()
	fb.regs[10] = 0x0001
	fb.regs[11] = 0x0002
	fb.regs[12] = 0xfffe
	fb.input[0] = 42
	d := testDriver(fb)

	reqs := []dsModels.CommandRequest{
		{DeviceResourceName: "power", Type: common.ValueTypeUint16, Attributes: map[string]any{"startAddress": 10}},
		{DeviceResourceName: "energy", Type: common.ValueTypeUint32, Attributes: map[string]any{"startAddress": "10"}},
		{DeviceResourceName: "block", Type: common.ValueTypeUint16Array, Attributes: map[string]any{"startAddress": 10, "qty": 3}},
		{DeviceResourceName: "offset", Type: common.ValueTypeInt16, Attributes: map[string]any{"startAddress": 12.0}},
		{DeviceResourceName: "temp", Type: common.ValueTypeUint16, Attributes: map[string]any{"registerType": "INPUT", "startAddress": 0}},
	}
	cvs, err := d.HandleReadCommands("inverter", inverter("/dev/ttyUSB0", 1), reqs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(cvs), test.ShouldEqual, len(reqs))
	test.That(t, cvs[0].Value, test.ShouldEqual, uint16(1))
	test.That(t, cvs[1].Value, test.ShouldEqual, uint32(0x00010002))
	test.That(t, cvs[2].Value, test.ShouldResemble, []uint16{1, 2, 0xfffe})
	test.That(t, cvs[3].Value, test.ShouldEqual, int16(-2))
	test.That(t, cvs[4].Value, test.ShouldEqual, uint16(42))
	test.That(t, fb.count(protocol.CmdCreateModbus), test.ShouldEqual, 1)
}

func TestReadTimeoutIsRetriedAndReported(t *testing.T) {
	fb := newFakeBroker()
	fb.online["/dev/ttyUSB0"] = false
	d := testDriver(fb)

	_, err := d.HandleReadCommands("inverter", inverter("/dev/ttyUSB0", 1), []dsModels.CommandRequest{
		{DeviceResourceName: "power", Type: common.ValueTypeUint16, Attributes: map[string]any{"startAddress": 0}},
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Kind(err), test.ShouldEqual, errors.KindServiceUnavailable)
	test.That(t, fb.count(protocol.CmdReadHoldingRegisters), test.ShouldEqual, 2)
}

func TestWriteCommands(t *testing.T) {
	fb := newFakeBroker()
	d := testDriver(fb)
	protocols := inverter("/dev/ttyUSB0", 1)

	single, err := dsModels.NewCommandValue("setpoint", common.ValueTypeUint16, uint16(500))
	test.That(t, err, test.ShouldBeNil)
	wide, err := dsModels.NewCommandValue("limit", common.ValueTypeUint32, uint32(0x00030004))
	test.That(t, err, test.ShouldBeNil)

	reqs := []dsModels.CommandRequest{
		{DeviceResourceName: "setpoint", Type: common.ValueTypeUint16, Attributes: map[string]any{"startAddress": 20}},
		{DeviceResourceName: "limit", Type: common.ValueTypeUint32, Attributes: map[string]any{"startAddress": 30}},
	}
	test.That(t, d.HandleWriteCommands("inverter", protocols, reqs, []*dsModels.CommandValue{single, wide}), test.ShouldBeNil)
	test.That(t, fb.regs[20], test.ShouldEqual, uint16(500))
	test.That(t, fb.regs[30], test.ShouldEqual, uint16(3))
	test.That(t, fb.regs[31], test.ShouldEqual, uint16(4))
	test.That(t, fb.count(protocol.CmdWriteHoldingRegister), test.ShouldEqual, 1)
	test.That(t, fb.count(protocol.CmdWriteHoldingRegs), test.ShouldEqual, 1)

	readOnly := []dsModels.CommandRequest{
		{DeviceResourceName: "temp", Type: common.ValueTypeUint16, Attributes: map[string]any{"registerType": "input", "startAddress": 0}},
	}
	err = d.HandleWriteCommands("inverter", protocols, readOnly, []*dsModels.CommandValue{single})
	test.That(t, errors.Kind(err), test.ShouldEqual, errors.KindContractInvalid)
}

func TestParseProtocolErrors(t *testing.T) {
	cfg := config.Default().Device
	for name, protocols := range map[string]map[string]models.ProtocolProperties{
		"missing block": {"modbus-rtu": {"path": "/dev/ttyUSB0"}},
		"no port":       {"serialbroker": {"tag": "X"}},
		"bad node":      {"serialbroker": {"path": "/dev/ttyUSB0", "nodeAddress": 300}},
		"bad baud":      {"serialbroker": {"path": "/dev/ttyUSB0", "baudRate": "fast"}},
		"empty tag":     {"serialbroker": {"path": "/dev/ttyUSB0", "tag": " "}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseProtocol("dev", protocols, cfg)
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Kind(err), test.ShouldEqual, errors.KindContractInvalid)
		})
	}

	props, err := parseProtocol("dev", map[string]models.ProtocolProperties{"serialbroker": {"path": "/dev/ttyS0"}}, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.Tag, test.ShouldEqual, "dev")
	test.That(t, props.NodeAddress, test.ShouldEqual, 1)
	test.That(t, props.BaudRate, test.ShouldEqual, 9600)
}

func TestParseRegisterAttributes(t *testing.T) {
	ra, err := parseRegisterAttributes("r", map[string]any{"startAddress": "7"}, common.ValueTypeInt32)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ra, test.ShouldResemble, registerAttrs{Type: registerHolding, Start: 7, Qty: 2})

	for name, attrs := range map[string]map[string]any{
		"no start":   {},
		"bad type":   {"registerType": "coil", "startAddress": 0},
		"bad qty":    {"startAddress": 0, "qty": 0},
		"huge start": {"startAddress": 70000},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseRegisterAttributes("r", attrs, common.ValueTypeUint16)
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestRegisterValueRejectsShortReads(t *testing.T) {
	_, err := registerValue("r", common.ValueTypeUint32, []uint16{1})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = registerValue("r", common.ValueTypeFloat64, []uint16{1, 2, 3, 4})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStopFreesSlaves(t *testing.T) {
	fb := newFakeBroker()
	d := testDriver(fb)
	test.That(t, d.AddDevice("inverter", inverter("/dev/ttyUSB0", 1), models.Unlocked), test.ShouldBeNil)
	test.That(t, d.Stop(false), test.ShouldBeNil)
	test.That(t, len(fb.slaves), test.ShouldEqual, 0)
	test.That(t, len(d.db.Names()), test.ShouldEqual, 0)
}

func TestValidateDevice(t *testing.T) {
	d := testDriver(newFakeBroker())
	test.That(t, d.ValidateDevice(models.Device{Name: "ok", Protocols: inverter("/dev/ttyUSB0", 1)}), test.ShouldBeNil)
	test.That(t, d.ValidateDevice(models.Device{Name: "bad"}), test.ShouldNotBeNil)
}
