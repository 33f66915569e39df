package driver

import (
	"context"
	"fmt"
	"os"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"

	"github.com/linjuya-lu/serial_broker_go/internal/client"
	"github.com/linjuya-lu/serial_broker_go/internal/config"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

const (
	// ConfigPathEnv 指定驱动配置文件路径的环境变量
	ConfigPathEnv     = "SERIAL_BROKER_CONFIG"
	DefaultConfigPath = "./res/serial-broker.yaml"
)

func configPath() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

// ClientOptions 把配置转换为 broker 客户端的连接参数
func ClientOptions(cfg config.Client) client.Options {
	return client.Options{
		Transport:       cfg.Transport,
		URL:             cfg.URL,
		ResponseTimeout: cfg.ResponseTimeout,
		MQTT:            cfg.MQTT.ClientOptions(),
		Topic:           cfg.MQTT.Topic,
	}
}

// connectBroker 负责：
//  1. 加载配置（文件不存在时使用默认值）
//  2. 按 Client 配置连接 broker
func connectBroker(ctx context.Context, lc logger.LoggingClient) (config.Config, *client.Conn, error) {
	path := configPath()
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return cfg, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	conn, err := client.Connect(ctx, ClientOptions(cfg.Client), lc)
	if err != nil {
		return cfg, nil, fmt.Errorf("connect to serial broker via %s: %w", cfg.Client.Transport, err)
	}
	lc.Infof("connected to serial broker (%s %s)", cfg.Client.Transport, cfg.Client.URL)
	return cfg, conn, nil
}

// probeHolding 读取 0 号保持寄存器确认从站在线，用于按 pnpId 发现串口
func probeHolding(ctx context.Context, m *client.Modbus) protocol.Result {
	return m.ReadHoldingRegisters(ctx, 0, 1)
}

// attach 在 broker 上为设备创建从站并设置节点地址；
// 没有配置 path 时按 pnpId 在所有串口中发现设备
func (d *Driver) attach(ctx context.Context, name string, props slaveProps) (*slaveDevice, error) {
	sess := client.NewSession(d.api, props.Tag, props.port(), props.line())
	dev := client.NewDevice(sess, d.lc,
		client.WithMaxTries(d.cfg.Client.MaxTries),
		client.WithRetryDelay(d.cfg.Client.RetryDelay),
		client.WithCriticalErrors(d.cfg.Client.CriticalErrors))
	m := client.NewModbus(dev)

	if props.Path == "" {
		found := m.Discover(ctx, protocol.PortFilter{propPnpID: props.PnpID}, props.NodeAddress, probeHolding)
		if !found.Success {
			return nil, errors.NewCommonEdgeX(errors.KindEntityDoesNotExist,
				fmt.Sprintf("discover %s (pnpId %s): %s", name, props.PnpID, found.Message), nil)
		}
		props.Path = found.Port.Path
		d.lc.Infof("device %s discovered on %s", name, props.Path)
		return &slaveDevice{name: name, props: props, mdb: m}, nil
	}

	if res := m.Create(ctx); !res.Success {
		return nil, resultError("create-mdb-slave", name, res)
	}
	if res := m.SetNodeAddress(ctx, props.NodeAddress); !res.Success {
		m.Free(ctx)
		return nil, resultError("set-node-address", name, res)
	}
	d.lc.Infof("device %s attached as %s on %s, node %d", name, props.Tag, props.Path, props.NodeAddress)
	return &slaveDevice{name: name, props: props, mdb: m}, nil
}

// resultError 把失败的 broker 结果转换为 EdgeX 错误
func resultError(op, deviceName string, res protocol.Result) errors.EdgeX {
	kind := errors.KindServerError
	switch {
	case res.IsTimeout():
		kind = errors.KindServiceUnavailable
	case res.Text() == protocol.MessageNeverCreated, res.Text() == protocol.MessageNeverOpened:
		kind = errors.KindEntityDoesNotExist
	}
	return errors.NewCommonEdgeX(kind, fmt.Sprintf("%s on %s (%s): %s", op, deviceName, res.Path, res.Text()), nil)
}
