package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// ErrStopped 表示事件循环已经退出
var ErrStopped = errors.New("broker stopped")

// Responder 把响应写回请求到达的连接
type Responder func(protocol.Envelope)

type request struct {
	env     protocol.Envelope
	respond Responder
}

// Broker 在单个协程上顺序处理所有请求：注册表只在这里被修改。
// 寄存器操作在循环上解析绑定后交给协程池完成，其间其他请求可以继续处理。
type Broker struct {
	mgr      *Manager
	router   *Router
	requests chan request
	onKill   func()
	lc       logger.LoggingClient

	inflight sync.WaitGroup
	done     chan struct{}
}

type Options struct {
	Hardware Hardware
	Executor ExecutorConfig
	// OnKill 在 kill-process 的响应发出后调用
	OnKill func()
}

func New(opts Options, lc logger.LoggingClient) *Broker {
	reg := NewRegistry()
	mgr := NewManager(reg, opts.Hardware, lc)
	exec := NewExecutor(reg, opts.Executor, lc)
	// 原始串口命令与寄存器操作共用同一份严重错误名单与告警
	mgr.watch = exec.watch
	onKill := opts.OnKill
	if onKill == nil {
		onKill = func() {}
	}
	return &Broker{
		mgr:      mgr,
		router:   NewRouter(mgr, exec, lc),
		requests: make(chan request),
		onKill:   onKill,
		lc:       lc,
		done:     make(chan struct{}),
	}
}

// Submit 把请求交给事件循环；循环退出后返回 ErrStopped
func (b *Broker) Submit(ctx context.Context, env protocol.Envelope, respond Responder) error {
	select {
	case b.requests <- request{env: env, respond: respond}:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 处理请求直到 ctx 结束，然后等待进行中的硬件调用并关闭所有绑定
func (b *Broker) Run(ctx context.Context) error {
	defer close(b.done)
	b.lc.Info("broker event loop started")
	for {
		select {
		case <-ctx.Done():
			b.inflight.Wait()
			b.lc.Info("broker event loop stopped, closing ports")
			return b.mgr.CloseAll()
		case req := <-b.requests:
			b.handle(ctx, req)
		}
	}
}

func (b *Broker) handle(ctx context.Context, req request) {
	rep := b.router.route(req.env)
	if rep.call == nil {
		req.respond(req.env.Reply(rep.event, rep.result))
		if rep.kill {
			b.onKill()
		}
		return
	}
	b.inflight.Add(1)
	go func() {
		defer b.inflight.Done()
		req.respond(req.env.Reply(rep.event, rep.call(ctx)))
	}()
}
