package broker

import (
	"context"
	"time"
)

const (
	DefaultIdleTimeout  = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// WatchIdle 每隔 poll 检查一次 clients()，连续 timeout 没有客户端时返回 true。
// ctx 结束时返回 false；timeout <= 0 时只等待 ctx。
func WatchIdle(ctx context.Context, clients func() int, timeout, poll time.Duration) bool {
	if timeout <= 0 {
		<-ctx.Done()
		return false
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	idleSince := time.Now()
	for {
		select {
		case <-ctx.Done():
			return false
		case now := <-ticker.C:
			if clients() > 0 {
				idleSince = now
				continue
			}
			if now.Sub(idleSince) >= timeout {
				return true
			}
		}
	}
}
