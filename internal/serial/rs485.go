package serial

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// gpioRoot 是 sysfs GPIO 目录，测试时指向临时目录
var gpioRoot = "/sys/class/gpio"

// deSettle 是拉高 DE 后等待收发器切换的时间
var deSettle = 5 * time.Millisecond

// RS485Port 在 UARTPort 之上增加 DE/RE 方向控制：
// 默认接收，写入期间切到发送
type RS485Port struct {
	*UARTPort

	gmu    sync.Mutex
	gpioFD *os.File
}

func NewRS485Port(cfg Config) *RS485Port {
	return &RS485Port{UARTPort: NewUARTPort(cfg)}
}

// Open 导出 GPIO 并打开串口
func (r *RS485Port) Open() error {
	r.gmu.Lock()
	defer r.gmu.Unlock()
	if r.gpioFD == nil {
		f, err := prepareDEPin(r.cfg.DEPin)
		if err != nil {
			return err
		}
		r.gpioFD = f
	}
	if err := r.UARTPort.Open(); err != nil {
		r.gpioFD.Close()
		r.gpioFD = nil
		return err
	}
	return nil
}

// Close 关闭串口和 GPIO
func (r *RS485Port) Close() error {
	r.gmu.Lock()
	defer r.gmu.Unlock()
	firstErr := r.UARTPort.Close()
	if r.gpioFD != nil {
		if err := r.gpioFD.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.gpioFD = nil
	}
	return firstErr
}

// Write 切到发送 → 写整帧 → 等待发完 → 切回接收
func (r *RS485Port) Write(p []byte) (int, error) {
	r.gmu.Lock()
	defer r.gmu.Unlock()
	if r.gpioFD == nil {
		return 0, errPortClosed
	}
	return writeHalfDuplex(r.gpioFD, r.UARTPort.Write, p, r.cfg.BaudRate)
}

func writeHalfDuplex(de io.Writer, write func([]byte) (int, error), p []byte, baud int) (int, error) {
	if _, err := io.WriteString(de, "1"); err != nil {
		return 0, fmt.Errorf("GPIO DE high failed: %w", err)
	}
	time.Sleep(deSettle)

	n, err := write(p)
	if err != nil {
		// 出错切回接收
		_, _ = io.WriteString(de, "0")
		return n, err
	}
	if baud > 0 {
		// 等待所有比特发出 (10 bits/byte)
		time.Sleep(time.Duration(n*10) * time.Second / time.Duration(baud))
	}
	if _, err := io.WriteString(de, "0"); err != nil {
		return n, fmt.Errorf("GPIO DE low failed: %w", err)
	}
	return n, nil
}

// -------- GPIO 辅助函数 --------

func prepareDEPin(pin int) (*os.File, error) {
	if err := exportGPIO(pin); err != nil {
		return nil, fmt.Errorf("export GPIO %d failed: %w", pin, err)
	}
	if err := setGPIODirection(pin, "out"); err != nil {
		return nil, fmt.Errorf("set GPIO %d direction: %w", pin, err)
	}
	f, err := openGPIOValue(pin)
	if err != nil {
		return nil, fmt.Errorf("open GPIO %d value: %w", pin, err)
	}
	// 默认低电平 (接收)
	if _, err := f.WriteString("0"); err != nil {
		f.Close()
		return nil, fmt.Errorf("init GPIO %d low: %w", pin, err)
	}
	return f, nil
}

func gpioPath(pin int, node string) string {
	return filepath.Join(gpioRoot, "gpio"+strconv.Itoa(pin), node)
}

func exportGPIO(pin int) error {
	if _, err := os.Stat(filepath.Join(gpioRoot, "gpio"+strconv.Itoa(pin))); err == nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(gpioRoot, "export"), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, _ = f.WriteString(strconv.Itoa(pin)) // 若已导出则忽略错误
	time.Sleep(100 * time.Millisecond)
	return nil
}

func setGPIODirection(pin int, dir string) error {
	f, err := os.OpenFile(gpioPath(pin, "direction"), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(dir)
	return err
}

func openGPIOValue(pin int) (*os.File, error) {
	return os.OpenFile(gpioPath(pin, "value"), os.O_RDWR, 0)
}
