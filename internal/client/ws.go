package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

const (
	// 连接断开后，下一次 Send 按指数退避重新拨号
	redialTries    = 3
	redialInterval = 50 * time.Millisecond
	dialTimeout    = 2 * time.Second
)

// WSTransport 通过一个 WebSocket 连接与 broker 通信，连接断开后在下一次发送时重连
type WSTransport struct {
	url       string
	onMessage func(protocol.Envelope)
	onClose   func(error)

	mu     sync.Mutex
	conn   *websocket.Conn // 断开时为 nil
	done   chan struct{}   // 当前读循环退出时关闭
	closed bool
}

// DialWS 连接 broker，并在后台把收到的信封交给 onMessage；每次连接断开时调用 onClose
func DialWS(ctx context.Context, url string, onMessage func(protocol.Envelope), onClose func(error)) (*WSTransport, error) {
	t := &WSTransport{url: url, onMessage: onMessage, onClose: onClose}
	if err := t.dial(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// dial 建立连接并启动读循环，调用方持有 mu 或尚未发布 t
func (t *WSTransport) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.url, err)
	}
	done := make(chan struct{})
	t.conn, t.done = conn, done
	go t.readLoop(conn, done)
	return nil
}

func (t *WSTransport) redial() error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = redialInterval
	policy := backoff.WithMaxRetries(exp, redialTries-1)
	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		defer cancel()
		return t.dial(ctx)
	}, policy)
}

func (t *WSTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			closing := t.closed
			t.mu.Unlock()
			// Close 负责关闭它自己拿走的连接
			if !closing {
				_ = conn.Close()
				t.onClose(err)
			}
			return
		}
		var env protocol.Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		t.onMessage(env)
	}
}

// Connected 报告当前是否持有一个活动连接
func (t *WSTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *WSTransport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrDisconnected
	}
	if t.conn == nil {
		if err := t.redial(); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
	}
	if err := t.conn.WriteJSON(env); err != nil {
		// 丢弃坏连接，下一次发送重新拨号
		_ = t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// Close 关闭连接并等待读循环退出，重复调用无副作用
func (t *WSTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn, done := t.conn, t.done
	t.conn = nil
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	t.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if done != nil {
		<-done
	}
	return err
}
