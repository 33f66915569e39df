package serial

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tarm/serial"
)

var errPortClosed = errors.New("port is closed")

// UARTPort 是基于 tarm/serial 的全双工串口句柄
type UARTPort struct {
	cfg Config

	mu     sync.Mutex
	handle *serial.Port
	stop   chan struct{}
	rx     *rxBuffer
}

func NewUARTPort(cfg Config) *UARTPort {
	return &UARTPort{cfg: cfg, rx: newRxBuffer(maxBufferSize)}
}

func (u *UARTPort) Path() string { return u.cfg.Path }

func (u *UARTPort) IsOpen() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.handle != nil
}

func (u *UARTPort) Readable() bool { return u.IsOpen() }
func (u *UARTPort) Writable() bool { return u.IsOpen() }

// Open 打开串口并启动后台读循环；已打开时直接返回
func (u *UARTPort) Open() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handle != nil {
		return nil
	}
	sc, err := tarmConfig(u.cfg)
	if err != nil {
		return err
	}
	p, err := serial.OpenPort(sc)
	if err != nil {
		return fmt.Errorf("open UART %s failed: %w", u.cfg.Path, err)
	}
	u.handle = p
	u.stop = make(chan struct{})
	go u.rx.fill(p, u.stop)
	return nil
}

func (u *UARTPort) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.handle == nil {
		return nil
	}
	close(u.stop)
	err := u.handle.Close()
	u.handle = nil
	if err != nil {
		return fmt.Errorf("close UART %s failed: %w", u.cfg.Path, err)
	}
	return nil
}

func (u *UARTPort) Write(p []byte) (int, error) {
	u.mu.Lock()
	h := u.handle
	u.mu.Unlock()
	if h == nil {
		return 0, errPortClosed
	}
	n, err := h.Write(p)
	if err != nil {
		return n, fmt.Errorf("UART write failed: %w", err)
	}
	return n, nil
}

func (u *UARTPort) Drain() []byte {
	return u.rx.drain()
}
