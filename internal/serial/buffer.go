package serial

import (
	"io"
	"sync"
	"time"
)

// maxBufferSize 限制未被读取的接收数据量，超出时丢弃最旧的字节
const maxBufferSize = 64 * 1024

type rxBuffer struct {
	mu    sync.Mutex
	data  []byte
	limit int
}

func newRxBuffer(limit int) *rxBuffer {
	return &rxBuffer{limit: limit}
}

func (b *rxBuffer) append(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = append([]byte(nil), b.data[over:]...)
	}
}

// drain 取走全部缓存；没有数据时返回 nil
func (b *rxBuffer) drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := b.data
	b.data = nil
	return out
}

// fill 持续从 r 读取数据直到 stop 关闭；读出错时稍后重试
func (b *rxBuffer) fill(r io.Reader, stop <-chan struct{}) {
	tmp := make([]byte, 256)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := r.Read(tmp)
		if n > 0 {
			b.append(tmp[:n])
		}
		if err != nil {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}
