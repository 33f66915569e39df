// internal/serial/serial.go

package serial

import (
	"fmt"
	"time"

	"github.com/tarm/serial"
)

// Handle 是 broker 持有的原始串口句柄。
// 接收由后台读循环写入缓冲区，Drain 一次取走已缓存的全部字节。
type Handle interface {
	Path() string
	IsOpen() bool
	Readable() bool
	Writable() bool
	// Open 重新打开一个已关闭的句柄
	Open() error
	// Close 对已关闭的句柄调用也返回 nil
	Close() error
	Write(p []byte) (int, error)
	Drain() []byte
}

// Config 描述打开一个串口所需的线路参数
type Config struct {
	Path        string
	BaudRate    int
	DataBits    int
	Parity      string
	ReadTimeout time.Duration
	// DEPin > 0 时按 RS-485 半双工处理，写入前后切换 DE/RE
	DEPin int
}

// Opener 根据配置创建并打开句柄，测试中可替换为假实现
type Opener func(cfg Config) (Handle, error)

const defaultReadTimeout = 100 * time.Millisecond

// Open 是默认的 Opener：按 DEPin 选择 UART 或 RS-485 实现
func Open(cfg Config) (Handle, error) {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	var h Handle
	if cfg.DEPin > 0 {
		h = NewRS485Port(cfg)
	} else {
		h = NewUARTPort(cfg)
	}
	if err := h.Open(); err != nil {
		return nil, err
	}
	return h, nil
}

func tarmConfig(cfg Config) (*serial.Config, error) {
	parity, err := parityOf(cfg.Parity)
	if err != nil {
		return nil, err
	}
	return &serial.Config{
		Name:        cfg.Path,
		Baud:        cfg.BaudRate,
		Size:        byte(cfg.DataBits),
		Parity:      parity,
		StopBits:    serial.Stop1,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

func parityOf(name string) (serial.Parity, error) {
	switch name {
	case "", "none":
		return serial.ParityNone, nil
	case "even":
		return serial.ParityEven, nil
	case "odd":
		return serial.ParityOdd, nil
	case "mark":
		return serial.ParityMark, nil
	case "space":
		return serial.ParitySpace, nil
	}
	return 0, fmt.Errorf("unsupported parity %q", name)
}
