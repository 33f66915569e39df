package broker

import (
	"io"
	"os"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

// Alerter 接收需要操作员处理的严重硬件错误
type Alerter interface {
	Alert(tag, path, msg string)
}

// BannerAlerter 把严重错误以横幅写到 W（默认 stderr），同时记一条错误日志。
// 横幅不经过日志级别过滤，日志关闭时操作员仍能看到。
type BannerAlerter struct {
	W  io.Writer
	LC logger.LoggingClient

	mu sync.Mutex
}

func (a *BannerAlerter) Alert(tag, path, msg string) {
	w := a.W
	if w == nil {
		w = os.Stderr
	}
	a.mu.Lock()
	protocol.WriteBanner(w, tag, path, msg)
	a.mu.Unlock()
	if a.LC != nil {
		a.LC.Errorf("critical hardware error on %s (tag %s): %s", path, tag, msg)
	}
}

// criticalWatch 在失败结果命中严重错误名单时发出告警，并在结果上打标记供客户端提示
type criticalWatch struct {
	list  []string
	alert Alerter
}

func newCriticalWatch(list []string, alert Alerter, lc logger.LoggingClient) criticalWatch {
	if list == nil {
		list = protocol.DefaultCriticalErrors
	}
	if alert == nil {
		alert = &BannerAlerter{LC: lc}
	}
	return criticalWatch{list: list, alert: alert}
}

func (w criticalWatch) check(tag string, res protocol.Result) protocol.Result {
	if res.Success {
		return res
	}
	msg := res.Text()
	if !protocol.IsCritical(msg, w.list) {
		return res
	}
	w.alert.Alert(tag, res.Path, msg)
	return res.MarkCritical()
}
