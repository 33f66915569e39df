package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope 是两种传输绑定（WebSocket / MQTT）共用的消息外壳。
// Token 为空时按事件名配对（-req → -res），否则响应携带相同 Token。
// ReplyTo 只在 MQTT 绑定中使用，指明响应应发布到的主题。
type Envelope struct {
	Event   string          `json:"event"`
	Token   string          `json:"token,omitempty"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope 把 payload 序列化进 Data
func NewEnvelope(event, token string, payload any) (Envelope, error) {
	env := Envelope{Event: event, Token: token}
	if payload == nil {
		return env, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = b
	return env, nil
}

// Reply 构造对 req 的响应信封，沿用请求的 Token 与 ReplyTo
func (req Envelope) Reply(event string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		b, _ = json.Marshal(Fail(UnknownPath, fmt.Sprintf("marshal response: %v", err)))
	}
	return Envelope{Event: event, Token: req.Token, ReplyTo: req.ReplyTo, Data: b}
}
