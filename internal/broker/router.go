package broker

import (
	"encoding/json"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// reply 是路由对一个请求的处理结果：要么立即得到 result，要么 call 在事件循环外完成
type reply struct {
	event  string
	result any
	call   Call
	kill   bool
}

type handler func(data json.RawMessage) (reply, error)

// Router 按事件名把请求分发给 Manager / Executor。
// 载荷在到达状态机之前完成校验，失败时回复 server-error。
type Router struct {
	mgr      *Manager
	exec     *Executor
	decoder  *payloadDecoder
	handlers map[string]handler
	lc       logger.LoggingClient
}

func NewRouter(mgr *Manager, exec *Executor, lc logger.LoggingClient) *Router {
	r := &Router{mgr: mgr, exec: exec, decoder: newPayloadDecoder(), lc: lc}
	r.handlers = map[string]handler{
		protocol.CmdPortList:             r.portList,
		protocol.CmdOpenPorts:            r.openPorts,
		protocol.CmdActiveSlaves:         r.activeSlaves,
		protocol.CmdOpenPort:             r.openPort,
		protocol.CmdClosePort:            r.closePort,
		protocol.CmdReadBuffer:           r.readBuffer,
		protocol.CmdWriteBuffer:          r.writeBuffer,
		protocol.CmdCreateModbus:         r.createSlave,
		protocol.CmdOpenModbus:           r.tagged(mgr.OpenModbusSlave),
		protocol.CmdCloseModbus:          r.tagged(mgr.CloseModbusSlave),
		protocol.CmdFreeModbus:           r.tagged(mgr.FreeModbusSlave),
		protocol.CmdSetNodeAddress:       r.setNodeAddress,
		protocol.CmdReadInputRegisters:   r.readInputRegisters,
		protocol.CmdReadHoldingRegisters: r.readHoldingRegisters,
		protocol.CmdWriteHoldingRegister: r.writeRegister,
		protocol.CmdWriteHoldingRegs:     r.writeRegisters,
		protocol.CmdReadDeviceID:         r.readDeviceID,
		protocol.EventKillProcess:        r.killProcess,
	}
	return r
}

// route 在事件循环上运行；未知事件与校验失败都转为 server-error
func (r *Router) route(env protocol.Envelope) reply {
	cmd, ok := protocol.CommandOf(env.Event)
	h, known := r.handlers[cmd]
	if !ok || !known {
		r.lc.Warnf("unknown event %q", env.Event)
		return reply{event: protocol.EventServerError, result: protocol.Fail(protocol.UnknownPath, "unknown event "+env.Event)}
	}
	rep, err := h(env.Data)
	if err != nil {
		r.lc.Errorf("%s: %v", env.Event, invalid("invalid payload", err))
		return reply{event: protocol.EventServerError, result: protocol.Fail(protocol.UnknownPath, err.Error())}
	}
	rep.event = protocol.ResponseEvent(cmd)
	return rep
}

func now(res protocol.Result) (reply, error) { return reply{result: res}, nil }

func (r *Router) portList(json.RawMessage) (reply, error) {
	ports, err := r.mgr.PortList()
	if err != nil {
		r.lc.Errorf("port-list: %v", err)
		return reply{result: []protocol.PortDescriptor{}}, nil
	}
	return reply{result: ports}, nil
}

func (r *Router) openPorts(json.RawMessage) (reply, error) {
	return reply{result: r.mgr.reg.OpenPorts()}, nil
}

func (r *Router) activeSlaves(json.RawMessage) (reply, error) {
	return reply{result: r.mgr.reg.ActiveSlaves()}, nil
}

func (r *Router) openPort(data json.RawMessage) (reply, error) {
	var req protocol.OpenRequest
	if err := r.decoder.decode(data, lineRequest, &req); err != nil {
		return reply{}, err
	}
	return now(r.mgr.Open(req.PortInfo, req.Config))
}

func (r *Router) closePort(data json.RawMessage) (reply, error) {
	tag, err := r.decoder.decodeTag(data)
	if err != nil {
		return reply{}, err
	}
	return now(r.mgr.Close(tag))
}

func (r *Router) readBuffer(data json.RawMessage) (reply, error) {
	var req protocol.ReadRequest
	if err := r.decoder.decode(data, readRequest, &req); err != nil {
		return reply{}, err
	}
	return now(r.mgr.Read(req.TagName, req.Encoding))
}

func (r *Router) writeBuffer(data json.RawMessage) (reply, error) {
	var req protocol.WriteRequest
	if err := r.decoder.decode(data, writeRequest, &req); err != nil {
		return reply{}, err
	}
	return now(r.mgr.Write(req.TagName, req.Message))
}

func (r *Router) createSlave(data json.RawMessage) (reply, error) {
	var req protocol.OpenRequest
	if err := r.decoder.decode(data, lineRequest, &req); err != nil {
		return reply{}, err
	}
	return now(r.mgr.CreateModbusSlave(req.PortInfo, req.Config))
}

func (r *Router) tagged(fn func(tag string) protocol.Result) handler {
	return func(data json.RawMessage) (reply, error) {
		tag, err := r.decoder.decodeTag(data)
		if err != nil {
			return reply{}, err
		}
		return now(fn(tag))
	}
}

func (r *Router) setNodeAddress(data json.RawMessage) (reply, error) {
	var req protocol.NodeAddressRequest
	if err := r.decoder.decode(data, nodeRequest, &req); err != nil {
		return reply{}, err
	}
	return now(r.exec.SetNodeAddress(req.TagName, req.NodeAddress))
}

func (r *Router) readInputRegisters(data json.RawMessage) (reply, error) {
	var req protocol.RegisterReadRequest
	if err := r.decoder.decode(data, regReadRequest, &req); err != nil {
		return reply{}, err
	}
	return reply{call: r.exec.ReadInputRegisters(req.TagName, req.StartAddress, req.Qty)}, nil
}

func (r *Router) readHoldingRegisters(data json.RawMessage) (reply, error) {
	var req protocol.RegisterReadRequest
	if err := r.decoder.decode(data, regReadRequest, &req); err != nil {
		return reply{}, err
	}
	return reply{call: r.exec.ReadHoldingRegisters(req.TagName, req.StartAddress, req.Qty)}, nil
}

func (r *Router) writeRegister(data json.RawMessage) (reply, error) {
	var req protocol.RegisterWriteRequest
	if err := r.decoder.decode(data, regWriteRequest, &req); err != nil {
		return reply{}, err
	}
	return reply{call: r.exec.WriteRegister(req.TagName, req.StartAddress, req.Value)}, nil
}

func (r *Router) writeRegisters(data json.RawMessage) (reply, error) {
	var req protocol.RegistersWriteRequest
	if err := r.decoder.decode(data, regsRequest, &req); err != nil {
		return reply{}, err
	}
	return reply{call: r.exec.WriteRegisters(req.TagName, req.StartAddress, req.ArrValues)}, nil
}

func (r *Router) readDeviceID(data json.RawMessage) (reply, error) {
	var req protocol.DeviceIDRequest
	if err := r.decoder.decode(data, deviceIDRequest, &req); err != nil {
		return reply{}, err
	}
	return reply{call: r.exec.ReadDeviceIdentification(req.TagName, req.IDCode, req.ObjectID)}, nil
}

func (r *Router) killProcess(json.RawMessage) (reply, error) {
	r.lc.Info("kill-process received, shutting down")
	return reply{result: protocol.OK(protocol.UnknownPath, "exiting"), kill: true}, nil
}
