package config

import (
	"time"

	"github.com/linjuya-lu/serial_broker_go/internal/mqtt"
)

// RS485Port 描述一个需要 DE/RE 控制的串口
type RS485Port struct {
	Path  string `yaml:"Path"`  // 串口设备节点
	DEPin int    `yaml:"DEPin"` // RS-485 DE/RE 控制 GPIO 编号
}

// MQTT 是 broker 与客户端共用的 MQTT 连接配置
type MQTT struct {
	Enabled        bool          `yaml:"Enabled"`
	Broker         string        `yaml:"Broker"` // tcp://host:port
	ClientID       string        `yaml:"ClientID"`
	Username       string        `yaml:"Username"`
	Password       string        `yaml:"Password"`
	KeepAlive      time.Duration `yaml:"KeepAlive"`
	ConnectTimeout time.Duration `yaml:"ConnectTimeout"`
	Qos            byte          `yaml:"Qos"`
	Topic          string        `yaml:"Topic"` // 请求发布到 <Topic>/req
}

// ClientOptions 转换为 mqtt 包的连接参数
func (m MQTT) ClientOptions() mqtt.ClientOptions {
	return mqtt.ClientOptions{
		Broker:         m.Broker,
		ClientID:       m.ClientID,
		Username:       m.Username,
		Password:       m.Password,
		KeepAlive:      m.KeepAlive,
		ConnectTimeout: m.ConnectTimeout,
		DefaultQos:     m.Qos,
	}
}

// Broker 是 broker 进程的配置
type Broker struct {
	ListenAddr      string        `yaml:"ListenAddr"`
	IdleTimeout     time.Duration `yaml:"IdleTimeout"` // 0 表示不因空闲退出
	PollInterval    time.Duration `yaml:"PollInterval"`
	ModbusTimeout   time.Duration `yaml:"ModbusTimeout"`
	HardwareWorkers int           `yaml:"HardwareWorkers"`
	LogLevel        string        `yaml:"LogLevel"`
	CriticalErrors  []string      `yaml:"CriticalErrors"`
	RS485           []RS485Port   `yaml:"RS485"`
	MQTT            MQTT          `yaml:"MQTT"`
}

// Client 是连接 broker 的客户端配置
type Client struct {
	Transport       string        `yaml:"Transport"` // websocket / mqtt
	URL             string        `yaml:"URL"`
	ResponseTimeout time.Duration `yaml:"ResponseTimeout"`
	MaxTries        int           `yaml:"MaxTries"`
	RetryDelay      time.Duration `yaml:"RetryDelay"`
	// CriticalErrors 为空时使用内置名单
	CriticalErrors []string `yaml:"CriticalErrors"`
	MQTT           MQTT     `yaml:"MQTT"`
}

// Device 是 EdgeX 设备服务驱动的配置
type Device struct {
	ProtocolName   string        `yaml:"ProtocolName"` // 设备 protocols 中的协议块名
	CommandTimeout time.Duration `yaml:"CommandTimeout"`
	NodeAddress    int           `yaml:"NodeAddress"` // 设备未指定 nodeAddress 时使用
	BaudRate       int           `yaml:"BaudRate"`
	Parity         string        `yaml:"Parity"`
}

// Config 汇总了 Broker、Client、Device 三部分
type Config struct {
	Broker Broker `yaml:"Broker"`
	Client Client `yaml:"Client"`
	Device Device `yaml:"Device"`
}
