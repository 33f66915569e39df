// Package race 让一次阻塞操作与超时计时器赛跑，先完成者决定结果。
package race

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
)

// ErrTimeout 表示计时器先于操作完成。
var ErrTimeout = errors.New("timeout")

// Submitter 负责在其他协程中执行任务，*ants.Pool 满足该接口。
type Submitter interface {
	Submit(task func()) error
}

// NewPool 创建一个非阻塞的协程池，池满时 Submit 立即返回 ants.ErrPoolOverload。
// 输掉比赛的操作仍占用池中的一个 worker，直到底层调用真正返回。
func NewPool(size int) (*ants.Pool, error) {
	return ants.NewPool(size, ants.WithNonblocking(true))
}

type outcome[T any] struct {
	val T
	err error
}

// Do 执行 fn 并与 timeout 赛跑。
// 超时后 fn 不会被取消，它之后产生的结果会被直接丢弃。
// timeout <= 0 表示不设超时，只受 ctx 约束。
func Do[T any](ctx context.Context, s Submitter, timeout time.Duration, fn func() (T, error)) (T, error) {
	var zero T

	// 缓冲为 1：输家在比赛结束后写入也不会阻塞
	done := make(chan outcome[T], 1)
	task := func() {
		v, err := fn()
		done <- outcome[T]{v, err}
	}
	if s == nil {
		go task()
	} else if err := s.Submit(task); err != nil {
		return zero, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case o := <-done:
		return o.val, o.err
	case <-expired:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
