package client

import (
	"encoding/json"
	"errors"

	"github.com/linjuya-lu/serial_broker_go/internal/mqtt"
	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// MQTTTransport 把请求发布到 <prefix>/req，并在 <prefix>/res/<clientID> 上接收响应
type MQTTTransport struct {
	conn    mqtt.Conn
	prefix  string
	replyTo string
}

func NewMQTTTransport(conn mqtt.Conn, prefix, clientID string, onMessage func(protocol.Envelope)) (*MQTTTransport, error) {
	t := &MQTTTransport{conn: conn, prefix: prefix, replyTo: mqtt.ResponseTopic(prefix, clientID)}
	err := conn.Subscribe(t.replyTo, func(payload []byte) {
		var env protocol.Envelope
		if json.Unmarshal(payload, &env) == nil {
			onMessage(env)
		}
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (t *MQTTTransport) Send(env protocol.Envelope) error {
	env.ReplyTo = t.replyTo
	return mqtt.PublishJSON(t.conn, mqtt.RequestTopic(t.prefix), env)
}

func (t *MQTTTransport) Close() error {
	t.conn.Disconnect(250)
	return nil
}

var errUnknownTransport = errors.New("unknown transport")
