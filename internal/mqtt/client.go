// Package mqtt 封装 paho 客户端，供 broker 与客户端的 MQTT 绑定共用
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// ClientOptions 配置 MQTT 客户端行为
// Broker: tcp://host:port
// ClientID: 客户端标识
// Username/Password: 可选认证
// KeepAlive: 心跳间隔
// ConnectTimeout: 连接超时
// DefaultQos/DefaultRetain: 默认发布参数
type ClientOptions struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	DefaultQos     byte
	DefaultRetain  bool
	// OnConnectionLost 在连接断开时调用，paho 随后会自动重连
	OnConnectionLost func(err error)
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.KeepAlive <= 0 {
		o.KeepAlive = 60 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	return o
}

// Conn 是绑定层需要的最小发布/订阅能力，测试中用内存实现替换
type Conn interface {
	Publish(topic string, payload []byte) error
	Subscribe(topic string, handler func([]byte)) error
	Disconnect(quiesce uint)
}

// Client 封装 Paho MQTT 客户端
type Client struct {
	inner paho.Client
	opts  ClientOptions
	mu    sync.Mutex
	subs  map[string]func([]byte)
}

// NewClient 创建一个新的 MQTT 客户端并连接到 Broker。
// 开启自动重连；重连成功后重新订阅之前的主题。
func NewClient(opts ClientOptions) (*Client, error) {
	opts = opts.withDefaults()
	c := &Client{opts: opts, subs: make(map[string]func([]byte))}
	p := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetKeepAlive(opts.KeepAlive).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) { c.resubscribe() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			if opts.OnConnectionLost != nil {
				opts.OnConnectionLost(err)
			}
		})
	if opts.Username != "" {
		p.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		p.SetPassword(opts.Password)
	}
	c.inner = paho.NewClient(p)
	tok := c.inner.Connect()
	if !tok.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt connect timeout after %s", opts.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", err)
	}
	return c, nil
}

// Publish 发布原始数据到指定主题
func (c *Client) Publish(topic string, payload []byte) error {
	tok := c.inner.Publish(topic, c.opts.DefaultQos, c.opts.DefaultRetain, payload)
	if !tok.WaitTimeout(c.opts.ConnectTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return tok.Error()
}

// Subscribe 订阅主题，handler 接收原始数据
func (c *Client) Subscribe(topic string, handler func([]byte)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return c.subscribe(topic, handler)
}

func (c *Client) subscribe(topic string, handler func([]byte)) error {
	tok := c.inner.Subscribe(topic, c.opts.DefaultQos, func(_ paho.Client, m paho.Message) {
		handler(m.Payload())
	})
	tok.Wait()
	return tok.Error()
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]func([]byte), len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()
	for t, h := range subs {
		_ = c.subscribe(t, h)
	}
}

// Disconnect 断开与 Broker 的连接
func (c *Client) Disconnect(quiesce uint) {
	c.inner.Disconnect(quiesce)
}

// PublishJSON 序列化 v 并发布
func PublishJSON(conn Conn, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", topic, err)
	}
	return conn.Publish(topic, b)
}

// RequestTopic 是 broker 订阅的请求主题
func RequestTopic(prefix string) string { return prefix + "/req" }

// ResponseTopic 是某个客户端接收响应的主题
func ResponseTopic(prefix, clientID string) string { return prefix + "/res/" + clientID }
