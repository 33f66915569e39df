package broker

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"go.viam.com/test"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

func newTestRouter(t *testing.T) (*Router, *FakeHardware) {
	t.Helper()
	hw := NewFakeHardware("/dev/ttyUSB0")
	reg := NewRegistry()
	lc := logger.NewMockClient()
	mgr := NewManager(reg, hw.Hardware(), lc)
	return NewRouter(mgr, NewExecutor(reg, ExecutorConfig{}, lc), lc), hw
}

func envelope(t *testing.T, cmd, token string, data any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(protocol.RequestEvent(cmd), token, data)
	test.That(t, err, test.ShouldBeNil)
	return env
}

func rawEnvelope(cmd, data string) protocol.Envelope {
	return protocol.Envelope{Event: protocol.RequestEvent(cmd), Token: "tok", Data: json.RawMessage(data)}
}

func resultOf(t *testing.T, rep reply) protocol.Result {
	t.Helper()
	if rep.call != nil {
		return rep.call(context.Background())
	}
	res, ok := rep.result.(protocol.Result)
	test.That(t, ok, test.ShouldBeTrue)
	return res
}

func TestRouterValidationFailures(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, tc := range []struct {
		cmd, data, want string
	}{
		{protocol.CmdOpenPort, `{}`, `"portInfo" is required`},
		{protocol.CmdOpenPort, `{"portInfo":{"path":"/dev/ttyUSB0"},"config":{"baudRate":"fast","tagName":"A"}}`, `"config.baudRate" must be of type integer`},
		{protocol.CmdOpenPort, `{"portInfo":{"path":"/dev/ttyUSB0"},"config":{"tagName":"A","parity":"sideways"}}`, `oneof`},
		{protocol.CmdClosePort, `null`, `"tagName" is required`},
		{protocol.CmdReadBuffer, `{"tagName":null}`, `"tagName" is required`},
		{protocol.CmdWriteBuffer, `{"tagName":"A","message":{"content":5}}`, `"message.content" must be of type string or array`},
		{protocol.CmdSetNodeAddress, `{"tagName":"A","nodeAddress":1.5}`, `"nodeAddress" must be of type integer`},
		{protocol.CmdReadHoldingRegisters, `{"tagName":"A","startAddress":0,"qty":"10"}`, `"qty" must be of type integer, got string`},
		{protocol.CmdReadHoldingRegisters, `{"tagName":"A","startAddress":0,"qty":200}`, `max=125`},
		{protocol.CmdWriteHoldingRegs, `{"tagName":"A","startAddress":0,"arrValues":[70000]}`, `max=65535`},
		{protocol.CmdReadDeviceID, `{"tagName":"A","idCode":9,"objectId":0}`, `max=4`},
		{protocol.CmdReadDeviceID, `[1,2]`, `JSON object`},
	} {
		rep := r.route(rawEnvelope(tc.cmd, tc.data))
		test.That(t, rep.event, test.ShouldEqual, protocol.EventServerError)
		res := resultOf(t, rep)
		test.That(t, res.Success, test.ShouldBeFalse)
		test.That(t, res.Text(), test.ShouldContainSubstring, tc.want)
	}
}

func TestRouterReportsEveryBadField(t *testing.T) {
	r, _ := newTestRouter(t)
	rep := r.route(rawEnvelope(protocol.CmdReadInputRegisters, `{"startAddress":"x"}`))
	text := resultOf(t, rep).Text()
	test.That(t, text, test.ShouldContainSubstring, `"tagName"`)
	test.That(t, text, test.ShouldContainSubstring, `"startAddress"`)
	test.That(t, text, test.ShouldContainSubstring, `"qty"`)
}

func TestRouterUnknownEvent(t *testing.T) {
	r, _ := newTestRouter(t)
	rep := r.route(protocol.Envelope{Event: "teleport-req"})
	test.That(t, rep.event, test.ShouldEqual, protocol.EventServerError)
	rep = r.route(protocol.Envelope{Event: "open-port-res"})
	test.That(t, rep.event, test.ShouldEqual, protocol.EventServerError)
}

func TestRouterDispatch(t *testing.T) {
	r, hw := newTestRouter(t)
	open := r.route(envelope(t, protocol.CmdOpenPort, "t1", protocol.OpenRequest{
		PortInfo: hw.Descriptor("/dev/ttyUSB0"),
		Config:   protocol.LineConfig{TagName: "COM_TEST", BaudRate: 9600, Parity: "none"},
	}))
	test.That(t, open.event, test.ShouldEqual, "open-port-res")
	test.That(t, resultOf(t, open).Success, test.ShouldBeTrue)

	list := r.route(envelope(t, protocol.CmdOpenPorts, "", nil))
	test.That(t, list.event, test.ShouldEqual, "get-openports-res")
	ports, ok := list.result.(map[string]protocol.PortSummary)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, ports["COM_TEST"].Path, test.ShouldEqual, "/dev/ttyUSB0")

	closed := r.route(envelope(t, protocol.CmdClosePort, "t2", "COM_TEST"))
	test.That(t, resultOf(t, closed).Success, test.ShouldBeTrue)

	create := r.route(envelope(t, protocol.CmdCreateModbus, "t3", protocol.OpenRequest{
		PortInfo: hw.Descriptor("/dev/ttyUSB0"),
		Config:   protocol.LineConfig{TagName: "INV1"},
	}))
	test.That(t, resultOf(t, create).Success, test.ShouldBeTrue)

	addr := r.route(envelope(t, protocol.CmdSetNodeAddress, "t4", protocol.NodeAddressRequest{TagName: "INV1", NodeAddress: 5}))
	test.That(t, addr.call, test.ShouldBeNil)
	test.That(t, *resultOf(t, addr).Addr, test.ShouldEqual, 5)

	read := r.route(envelope(t, protocol.CmdReadHoldingRegisters, "t5", protocol.RegisterReadRequest{TagName: "INV1", Qty: 10}))
	test.That(t, read.call, test.ShouldNotBeNil)
	regs, err := resultOf(t, read).Registers()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(regs), test.ShouldEqual, 10)

	free := r.route(envelope(t, protocol.CmdFreeModbus, "t6", protocol.TagRequest{TagName: "INV1"}))
	test.That(t, resultOf(t, free).Success, test.ShouldBeTrue)

	kill := r.route(protocol.Envelope{Event: protocol.EventKillProcess})
	test.That(t, kill.kill, test.ShouldBeTrue)
}
