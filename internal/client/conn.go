package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/google/uuid"

	"github.com/linjuya-lu/serial_broker_go/internal/mqtt"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Options 描述如何连接 broker
type Options struct {
	Transport       string
	URL             string
	ResponseTimeout time.Duration
	MQTT            mqtt.ClientOptions
	Topic           string
}

// Conn 是到 broker 的一个连接，多个设备会话可以共享
type Conn struct {
	*Correlator
	transport Transport
	lc        logger.LoggingClient
}

// Connect 按 opts.Transport 建立 WebSocket 或 MQTT 连接
func Connect(ctx context.Context, opts Options, lc logger.LoggingClient) (*Conn, error) {
	corr := NewCorrelator(opts.ResponseTimeout, lc)
	c := &Conn{Correlator: corr, lc: lc}
	switch opts.Transport {
	case "", TransportWebSocket:
		t, err := DialWS(ctx, opts.URL, corr.Deliver, func(err error) {
			lc.Warnf("connection to %s lost: %v", opts.URL, err)
			corr.FailAll(err)
		})
		if err != nil {
			return nil, err
		}
		c.transport = t
	case TransportMQTT:
		mo := opts.MQTT
		if mo.ClientID == "" {
			mo.ClientID = "serial-client-" + uuid.NewString()[:8]
		}
		mo.OnConnectionLost = func(err error) {
			lc.Warnf("mqtt connection lost: %v", err)
			corr.FailAll(err)
		}
		mc, err := mqtt.NewClient(mo)
		if err != nil {
			return nil, err
		}
		t, err := NewMQTTTransport(mc, opts.Topic, mo.ClientID, corr.Deliver)
		if err != nil {
			mc.Disconnect(250)
			return nil, err
		}
		c.transport = t
	default:
		return nil, fmt.Errorf("%w %q", errUnknownTransport, opts.Transport)
	}
	corr.Bind(c.transport)
	return c, nil
}

// NewConn 在已有传输层上创建连接，调用方负责把收到的信封交给 Deliver
func NewConn(corr *Correlator, t Transport, lc logger.LoggingClient) *Conn {
	corr.Bind(t)
	return &Conn{Correlator: corr, transport: t, lc: lc}
}

func (c *Conn) Close() error {
	c.FailAll(ErrDisconnected)
	return c.transport.Close()
}

// PortList 请求 broker 重新枚举串口
func (c *Conn) PortList(ctx context.Context) ([]protocol.PortDescriptor, error) {
	var ports []protocol.PortDescriptor
	if err := c.query(ctx, protocol.CmdPortList, &ports); err != nil {
		return nil, err
	}
	return ports, nil
}

// OpenPorts 返回 broker 上所有原始串口绑定
func (c *Conn) OpenPorts(ctx context.Context) (map[string]protocol.PortSummary, error) {
	var out map[string]protocol.PortSummary
	if err := c.query(ctx, protocol.CmdOpenPorts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveSlaves 返回 broker 上所有 Modbus 从站绑定
func (c *Conn) ActiveSlaves(ctx context.Context) (map[string]protocol.SlaveSummary, error) {
	var out map[string]protocol.SlaveSummary
	if err := c.query(ctx, protocol.CmdActiveSlaves, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Kill 让 broker 进程退出
func (c *Conn) Kill(ctx context.Context) protocol.Result {
	return c.Do(ctx, protocol.EventKillProcess, nil)
}

func (c *Conn) query(ctx context.Context, cmd string, out any) error {
	env, err := c.Call(ctx, cmd, nil)
	if err != nil {
		return err
	}
	if env.Event == protocol.EventServerError {
		return fmt.Errorf("%s rejected: %s", cmd, string(env.Data))
	}
	return json.Unmarshal(env.Data, out)
}
