package broker

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/linjuya-lu/serial_broker_go/internal/protocol"
)

const (
	WSPath     = "/ws"
	HealthPath = "/healthz"
)

// WSServer 是 broker 的 WebSocket 绑定：每个文本帧是一个 Envelope，响应只回送给发起请求的连接
type WSServer struct {
	broker   *Broker
	upgrader websocket.Upgrader
	clients  atomic.Int64
	lc       logger.LoggingClient
}

func NewWSServer(b *Broker, lc logger.LoggingClient) *WSServer {
	return &WSServer{
		broker: b,
		upgrader: websocket.Upgrader{
			// 只监听本地地址，接受任意 Origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		lc: lc,
	}
}

// Clients 返回当前连接数，供空闲检测使用
func (s *WSServer) Clients() int { return int(s.clients.Load()) }

func (s *WSServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(WSPath, s.serveWS)
	r.HandleFunc(HealthPath, s.health).Methods(http.MethodGet)
	return r
}

func (s *WSServer) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "clients": s.Clients()})
}

type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(env)
}

func (s *WSServer) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.lc.Errorf("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	s.clients.Add(1)
	defer s.clients.Add(-1)
	defer conn.Close()
	s.lc.Infof("client connected: %s", r.RemoteAddr)

	wc := &wsConn{conn: conn}
	respond := func(env protocol.Envelope) {
		if err := wc.send(env); err != nil {
			s.lc.Debugf("send %s to %s: %v", env.Event, r.RemoteAddr, err)
		}
	}
	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.lc.Infof("client disconnected: %s", r.RemoteAddr)
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			respond(protocol.Envelope{}.Reply(protocol.EventServerError,
				protocol.Fail(protocol.UnknownPath, "malformed envelope: "+err.Error())))
			continue
		}
		if err := s.broker.Submit(ctx, env, respond); err != nil {
			s.lc.Warnf("drop %s from %s: %v", env.Event, r.RemoteAddr, err)
			return
		}
	}
}
