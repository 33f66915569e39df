// Package client 是 broker 的调用方：每个请求带一个一次性 token，
// 响应按 token 配对；在此之上提供按 tag 串行、带重试的设备会话与 Modbus 寄存器操作。
package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// DefaultResponseTimeout 是等待一个响应的默认时长
const DefaultResponseTimeout = 5 * time.Second

var (
	// ErrTimeout 表示在超时前没有收到配对的响应
	ErrTimeout = stderrors.New(protocol.MessageTimeout)
	// ErrDisconnected 表示传输连接已断开
	ErrDisconnected = stderrors.New("transport disconnected")
)

// Transport 发送请求信封；收到的信封由传输层交给 Correlator.Deliver
type Transport interface {
	Send(env protocol.Envelope) error
	Close() error
}

type delivery struct {
	env protocol.Envelope
	err error
}

// Correlator 为每个请求生成 token 并登记等待者，响应到达或超时时恰好移除一次
type Correlator struct {
	transport Transport
	pending   cmap.ConcurrentMap[string, chan delivery]
	timeout   time.Duration
	lc        logger.LoggingClient
}

func NewCorrelator(timeout time.Duration, lc logger.LoggingClient) *Correlator {
	if timeout <= 0 {
		timeout = DefaultResponseTimeout
	}
	return &Correlator{
		pending: cmap.New[chan delivery](),
		timeout: timeout,
		lc:      lc,
	}
}

// Bind 设置发送请求所用的传输层
func (c *Correlator) Bind(t Transport) { c.transport = t }

// Pending 返回仍在等待响应的请求数
func (c *Correlator) Pending() int { return c.pending.Count() }

// Call 发送 cmd 请求并等待配对的响应信封
func (c *Correlator) Call(ctx context.Context, cmd string, payload any) (protocol.Envelope, error) {
	token := uuid.NewString()
	env, err := protocol.NewEnvelope(protocol.RequestEvent(cmd), token, payload)
	if err != nil {
		return protocol.Envelope{}, errors.NewCommonEdgeX(errors.KindContractInvalid, "encode request", err)
	}
	if c.transport == nil {
		return protocol.Envelope{}, errors.NewCommonEdgeX(errors.KindCommunicationError, cmd, ErrDisconnected)
	}

	ch := make(chan delivery, 1)
	c.pending.Set(token, ch)
	if err := c.transport.Send(env); err != nil {
		c.pending.Remove(token)
		return protocol.Envelope{}, errors.NewCommonEdgeX(errors.KindCommunicationError, "send "+env.Event, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case d := <-ch:
		return d.env, d.err
	case <-timer.C:
		if _, ok := c.pending.Pop(token); ok {
			return protocol.Envelope{}, ErrTimeout
		}
		// 响应与计时器同时到达，响应已经占用了 token
		d := <-ch
		return d.env, d.err
	case <-ctx.Done():
		if _, ok := c.pending.Pop(token); ok {
			return protocol.Envelope{}, ctx.Err()
		}
		d := <-ch
		return d.env, d.err
	}
}

// Deliver 把收到的信封交给等待同一 token 的请求；未知或已处理的 token 被丢弃
func (c *Correlator) Deliver(env protocol.Envelope) {
	if env.Token == "" {
		c.lc.Debugf("drop %s without token", env.Event)
		return
	}
	ch, ok := c.pending.Pop(env.Token)
	if !ok {
		c.lc.Debugf("drop %s for expired token %s", env.Event, env.Token)
		return
	}
	ch <- delivery{env: env}
}

// FailAll 在传输断开时让所有等待者立即失败
func (c *Correlator) FailAll(cause error) {
	for _, token := range c.pending.Keys() {
		if ch, ok := c.pending.Pop(token); ok {
			ch <- delivery{err: errors.NewCommonEdgeX(errors.KindCommunicationError, "connection lost", cause)}
		}
	}
}

// Do 发送请求并把响应还原为 Result；任何错误都转成 success:false，从不返回 error
func (c *Correlator) Do(ctx context.Context, cmd string, payload any) protocol.Result {
	env, err := c.Call(ctx, cmd, payload)
	if err != nil {
		if stderrors.Is(err, ErrTimeout) {
			return protocol.Timeout(protocol.UnknownPath)
		}
		return protocol.Fail(protocol.UnknownPath, err.Error())
	}
	var res protocol.Result
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return protocol.Fail(protocol.UnknownPath, "malformed "+env.Event+" payload: "+err.Error())
	}
	return res
}
