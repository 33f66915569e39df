package client

import (
	"context"
	"errors"
	"os"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"golang.org/x/sync/semaphore"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

const (
	DefaultMaxTries = 3

	// 请求/响应匹配的默认值
	DefaultMatchReadTimeout = 50 * time.Millisecond
	DefaultMatchMaxTries    = 5
)

var errAttemptFailed = errors.New("attempt failed")

// Device 包装一个会话：同一实例上的操作按到达顺序逐个执行，
// 寄存器类操作失败时最多尝试 maxTries 次
type Device struct {
	sess       *Session
	lock       *semaphore.Weighted
	maxTries   int
	retryDelay time.Duration
	critical   []string
	onCritical CriticalHandler
	lc         logger.LoggingClient
}

type DeviceOption func(*Device)

// CriticalHandler 在操作以严重硬件错误结束时调用
type CriticalHandler func(tag string, res protocol.Result)

// WithMaxTries 设置寄存器类操作的最大尝试次数
func WithMaxTries(n int) DeviceOption {
	return func(d *Device) {
		if n > 0 {
			d.maxTries = n
		}
	}
}

// WithRetryDelay 设置两次尝试之间的间隔
func WithRetryDelay(delay time.Duration) DeviceOption {
	return func(d *Device) { d.retryDelay = delay }
}

// WithCriticalErrors 替换识别严重错误的消息名单；broker 标记过的结果总是视为严重
func WithCriticalErrors(list []string) DeviceOption {
	return func(d *Device) {
		if list != nil {
			d.critical = list
		}
	}
}

// WithCriticalHandler 替换默认的 stderr 横幅提示
func WithCriticalHandler(fn CriticalHandler) DeviceOption {
	return func(d *Device) {
		if fn != nil {
			d.onCritical = fn
		}
	}
}

func NewDevice(sess *Session, lc logger.LoggingClient, opts ...DeviceOption) *Device {
	d := &Device{
		sess:     sess,
		lock:     semaphore.NewWeighted(1),
		maxTries: DefaultMaxTries,
		critical: protocol.DefaultCriticalErrors,
		lc:       lc,
	}
	d.onCritical = d.banner
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Device) banner(tag string, res protocol.Result) {
	protocol.WriteBanner(os.Stderr, tag, res.Path, res.Text())
	d.lc.Errorf("critical hardware error on %s (tag %s): %s", res.Path, tag, res.Text())
}

// warnCritical 对严重硬件错误单独提示操作员，结果原样返回
func (d *Device) warnCritical(res protocol.Result) protocol.Result {
	if res.Success {
		return res
	}
	if res.Critical || protocol.IsCritical(res.Text(), d.critical) {
		res.Critical = true
		d.onCritical(d.sess.tag, res)
	}
	return res
}

func (d *Device) Session() *Session { return d.sess }

// Exclusive 在持有设备锁时执行 fn；等待者按 FIFO 顺序获得锁
func (d *Device) Exclusive(ctx context.Context, fn func(ctx context.Context) protocol.Result) protocol.Result {
	if err := d.lock.Acquire(ctx, 1); err != nil {
		return protocol.Fail(protocol.UnknownPath, err.Error())
	}
	defer d.lock.Release(1)
	return d.warnCritical(fn(ctx))
}

// Retry 在持有设备锁时执行 fn，失败则重试，共最多 maxTries 次，返回最后一次结果
func (d *Device) Retry(ctx context.Context, op string, fn func(ctx context.Context) protocol.Result) protocol.Result {
	return d.Exclusive(ctx, func(ctx context.Context) protocol.Result {
		return d.attempt(ctx, op, d.maxTries, fn)
	})
}

func (d *Device) attempt(ctx context.Context, op string, tries int, fn func(ctx context.Context) protocol.Result) protocol.Result {
	var (
		last protocol.Result
		n    int
	)
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(d.retryDelay), uint64(tries-1)),
		ctx,
	)
	_ = backoff.Retry(func() error {
		n++
		last = fn(ctx)
		if last.Success {
			return nil
		}
		d.lc.Debugf("%s on %s (%s) attempt %d/%d failed: %s", op, d.sess.tag, last.Path, n, tries, last.Text())
		return errAttemptFailed
	}, policy)
	if !last.Success {
		d.lc.Errorf("%s on %s (%s) failed after %d attempts: %s", op, d.sess.tag, last.Path, n, last.Text())
	}
	return last
}

func (d *Device) Open(ctx context.Context) protocol.Result {
	return d.Exclusive(ctx, d.sess.Open)
}

func (d *Device) Close(ctx context.Context) protocol.Result {
	return d.Exclusive(ctx, d.sess.Close)
}

func (d *Device) Write(ctx context.Context, content any, encoding string) protocol.Result {
	return d.Exclusive(ctx, func(ctx context.Context) protocol.Result {
		return d.sess.Write(ctx, content, encoding)
	})
}

func (d *Device) Read(ctx context.Context, delay time.Duration, encoding string) protocol.Result {
	return d.Exclusive(ctx, func(ctx context.Context) protocol.Result {
		return d.sess.Read(ctx, delay, encoding)
	})
}

// MatchRequest 描述一次写入后按正则校验回复的交互
type MatchRequest struct {
	Request     any
	Pattern     *regexp.Regexp
	Encoding    string
	ReadTimeout time.Duration
	MaxTries    int
}

func (r MatchRequest) withDefaults() MatchRequest {
	if r.Encoding == "" {
		r.Encoding = protocol.EncodingHex
	}
	if r.ReadTimeout <= 0 {
		r.ReadTimeout = DefaultMatchReadTimeout
	}
	if r.MaxTries <= 0 {
		r.MaxTries = DefaultMatchMaxTries
	}
	return r
}

// MatchResult 是 ReqResMatch 的结果，Match 是正则的匹配组
type MatchResult struct {
	protocol.Result
	Match []string
}

// ReqResMatch 写入请求、等待 ReadTimeout 后读取，回复匹配 Pattern 时成功
func (d *Device) ReqResMatch(ctx context.Context, req MatchRequest) MatchResult {
	var out MatchResult
	out.Result = d.Exclusive(ctx, func(ctx context.Context) protocol.Result {
		return d.reqResMatch(ctx, req, &out.Match)
	})
	return out
}

func (d *Device) reqResMatch(ctx context.Context, req MatchRequest, match *[]string) protocol.Result {
	req = req.withDefaults()
	return d.attempt(ctx, "reqResMatch", req.MaxTries, func(ctx context.Context) protocol.Result {
		w := d.sess.Write(ctx, req.Request, req.Encoding)
		if !w.Success {
			return w
		}
		r := d.sess.Read(ctx, req.ReadTimeout, req.Encoding)
		if !r.Success {
			return r
		}
		if req.Pattern != nil && !r.IsNull() {
			if m := req.Pattern.FindStringSubmatch(r.Text()); m != nil {
				*match = m
				return protocol.OK(r.Path, m[0])
			}
		}
		return protocol.Fail(r.Path, "response did not match "+patternString(req.Pattern))
	})
}

func patternString(p *regexp.Regexp) string {
	if p == nil {
		return "<nil>"
	}
	return p.String()
}
