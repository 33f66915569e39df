package broker

import (
	"context"
	"encoding/json"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/serial_broker_go/internal/mqtt"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// outboxSize 是等待发布的响应数上限
const outboxSize = 64

// MQTTBinding 订阅 <prefix>/req，把响应发布到请求信封的 replyTo，
// 没有 replyTo 时发布到 <prefix>/res。
// 响应经 outbox 由单独的协程发布，事件循环从不等待 PUBACK。
type MQTTBinding struct {
	broker *Broker
	conn   mqtt.Conn
	prefix string
	outbox chan protocol.Envelope
	stop   <-chan struct{}
	lc     logger.LoggingClient
}

func NewMQTTBinding(b *Broker, conn mqtt.Conn, prefix string, lc logger.LoggingClient) *MQTTBinding {
	return &MQTTBinding{broker: b, conn: conn, prefix: prefix, outbox: make(chan protocol.Envelope, outboxSize), lc: lc}
}

// Start 启动发布协程并订阅请求主题；回调在 paho 的协程上执行
func (m *MQTTBinding) Start(ctx context.Context) error {
	m.stop = ctx.Done()
	go m.drain(ctx)
	return m.conn.Subscribe(mqtt.RequestTopic(m.prefix), func(payload []byte) {
		var env protocol.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			m.lc.Warnf("mqtt: malformed envelope on %s: %v", mqtt.RequestTopic(m.prefix), err)
			return
		}
		if err := m.broker.Submit(ctx, env, m.respond); err != nil {
			m.lc.Warnf("mqtt: drop %s: %v", env.Event, err)
		}
	})
}

// respond 在事件循环上调用，只把响应放进 outbox
func (m *MQTTBinding) respond(env protocol.Envelope) {
	select {
	case m.outbox <- env:
	case <-m.stop:
		m.lc.Debugf("mqtt: binding stopped, drop %s", env.Event)
	}
}

// drain 按顺序发布响应；ctx 结束后把已排队的响应发完再退出
func (m *MQTTBinding) drain(ctx context.Context) {
	for {
		select {
		case env := <-m.outbox:
			m.publish(env)
		case <-ctx.Done():
			for {
				select {
				case env := <-m.outbox:
					m.publish(env)
				default:
					return
				}
			}
		}
	}
}

func (m *MQTTBinding) publish(env protocol.Envelope) {
	topic := env.ReplyTo
	if topic == "" {
		topic = m.prefix + "/res"
	}
	if err := mqtt.PublishJSON(m.conn, topic, env); err != nil {
		m.lc.Errorf("mqtt: publish %s to %s: %v", env.Event, topic, err)
	}
}
