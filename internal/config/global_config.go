// Package config 从 YAML 文件加载 broker、客户端与设备服务的配置
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// 默认值
const (
	DefaultListenAddr      = "127.0.0.1:3000"
	DefaultIdleTimeout     = 10 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultModbusTimeout   = 200 * time.Millisecond
	DefaultHardwareWorkers = 16
	DefaultLogLevel        = "INFO"

	DefaultTransport       = "websocket"
	DefaultURL             = "ws://127.0.0.1:3000/ws"
	DefaultResponseTimeout = 5 * time.Second
	DefaultMaxTries        = 3

	DefaultProtocolName   = "serialbroker"
	DefaultCommandTimeout = 3 * time.Second

	DefaultMQTTBroker = "tcp://localhost:1883"
	DefaultMQTTTopic  = "serialbroker"
)

// Default 返回全部使用默认值的配置
func Default() Config {
	return Config{
		Broker: Broker{IdleTimeout: DefaultIdleTimeout},
	}.withDefaults()
}

// Parse 反序列化 YAML。空闲超时没有出现在文件中时取默认值，显式写 0 时关闭空闲退出；
// 其余字段的零值都替换为默认值。
func Parse(data []byte) (Config, error) {
	cfg := Config{Broker: Broker{IdleTimeout: DefaultIdleTimeout}}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load 读取并解析 path
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(data)
}

// LoadOrDefault 在文件不存在时返回默认配置
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

func (c Config) withDefaults() Config {
	b := &c.Broker
	if b.ListenAddr == "" {
		b.ListenAddr = DefaultListenAddr
	}
	if b.PollInterval <= 0 {
		b.PollInterval = DefaultPollInterval
	}
	if b.ModbusTimeout <= 0 {
		b.ModbusTimeout = DefaultModbusTimeout
	}
	if b.HardwareWorkers <= 0 {
		b.HardwareWorkers = DefaultHardwareWorkers
	}
	if b.LogLevel == "" {
		b.LogLevel = DefaultLogLevel
	}
	if b.CriticalErrors == nil {
		b.CriticalErrors = protocol.DefaultCriticalErrors
	}
	b.MQTT = b.MQTT.withDefaults("serial-broker")

	cl := &c.Client
	if cl.Transport == "" {
		cl.Transport = DefaultTransport
	}
	if cl.URL == "" {
		cl.URL = DefaultURL
	}
	if cl.ResponseTimeout <= 0 {
		cl.ResponseTimeout = DefaultResponseTimeout
	}
	if cl.MaxTries <= 0 {
		cl.MaxTries = DefaultMaxTries
	}
	cl.MQTT = cl.MQTT.withDefaults("")

	d := &c.Device
	if d.ProtocolName == "" {
		d.ProtocolName = DefaultProtocolName
	}
	if d.CommandTimeout <= 0 {
		d.CommandTimeout = DefaultCommandTimeout
	}
	if d.NodeAddress <= 0 {
		d.NodeAddress = 1
	}
	if d.BaudRate <= 0 {
		d.BaudRate = protocol.DefaultBaudRate
	}
	if d.Parity == "" {
		d.Parity = protocol.DefaultParity
	}
	return c
}

func (m MQTT) withDefaults(clientID string) MQTT {
	if m.Broker == "" {
		m.Broker = DefaultMQTTBroker
	}
	if m.ClientID == "" {
		m.ClientID = clientID
	}
	if m.Topic == "" {
		m.Topic = DefaultMQTTTopic
	}
	return m
}

func (c Config) validate() error {
	if c.Broker.IdleTimeout < 0 {
		return fmt.Errorf("Broker.IdleTimeout must not be negative, got %s", c.Broker.IdleTimeout)
	}
	switch c.Client.Transport {
	case "websocket", "mqtt":
	default:
		return fmt.Errorf("Client.Transport must be websocket or mqtt, got %q", c.Client.Transport)
	}
	seen := make(map[string]bool, len(c.Broker.RS485))
	for _, p := range c.Broker.RS485 {
		if p.Path == "" || p.DEPin <= 0 {
			return fmt.Errorf("Broker.RS485 entries need Path and a positive DEPin, got %+v", p)
		}
		if seen[p.Path] {
			return fmt.Errorf("Broker.RS485 lists %s twice", p.Path)
		}
		seen[p.Path] = true
	}
	if c.Device.NodeAddress > 247 {
		return fmt.Errorf("Device.NodeAddress must be within 0..247, got %d", c.Device.NodeAddress)
	}
	return nil
}

// DEPins 返回串口路径 → DE/RE 引脚
func (b Broker) DEPins() map[string]int {
	pins := make(map[string]int, len(b.RS485))
	for _, p := range b.RS485 {
		pins[p.Path] = p.DEPin
	}
	return pins
}
