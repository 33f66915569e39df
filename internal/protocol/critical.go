package protocol

import (
	"fmt"
	"io"
	"strings"
)

// DefaultCriticalErrors 是需要提示操作员重新插拔 USB 的驱动错误
var DefaultCriticalErrors = []string{
	"Writing to COM port (GetOverlappedResult): Unknown error code 31",
}

// IsCritical 判断错误文本是否包含名单中的任一条目
func IsCritical(msg string, list []string) bool {
	for _, c := range list {
		if c != "" && strings.Contains(msg, c) {
			return true
		}
	}
	return false
}

// WriteBanner 把严重错误写成醒目的横幅，独立于日志输出
func WriteBanner(w io.Writer, tag, path, msg string) {
	rule := strings.Repeat("!", 72)
	fmt.Fprintf(w, "%s\n!! CRITICAL SERIAL ERROR on %s (tag %s)\n!! %s\n!! Unplug the USB serial adapter, plug it back in and restart the session.\n%s\n",
		rule, path, tag, msg, rule)
}
