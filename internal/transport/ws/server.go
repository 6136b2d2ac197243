package ws

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"worldhost.ai/internal/events"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

// SubscribeMsg changes the event types a connection receives. An empty list
// means every type.
type SubscribeMsg struct {
	Type  string   `json:"type"`
	Types []string `json:"types"`
}

// Server streams lifecycle events from a hub to websocket clients.
type Server struct {
	hub *events.Hub
	log *zap.Logger

	// AllowRemote disables the loopback-only check.
	AllowRemote bool
	Buffer      int

	upgrader websocket.Upgrader
	conns    atomic.Int64
}

func NewServer(hub *events.Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		hub:    hub,
		log:    logger.Named("ws"),
		Buffer: 256,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Connections returns the number of open streams.
func (s *Server) Connections() int64 { return s.conns.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.AllowRemote && !IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		var filter atomic.Pointer[map[string]bool]
		filter.Store(typeSet(r.URL.Query()["type"]))

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.conns.Add(1)
		defer s.conns.Add(-1)

		sub := s.hub.Subscribe(s.Buffer, func(ev events.Event) bool {
			set := filter.Load()
			return set == nil || (*set)[ev.Type]
		})
		defer sub.Close()
		s.log.Debug("stream opened", zap.String("remote", r.RemoteAddr))

		done := make(chan struct{})
		go func() {
			defer close(done)
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case ev, ok := <-sub.C():
					if !ok {
						_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"), time.Now().Add(time.Second))
						return
					}
					if err := writeJSON(conn, ev); err != nil {
						return
					}
				case <-ticker.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						return
					}
				}
			}
		}()

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			var m SubscribeMsg
			if err := json.Unmarshal(msg, &m); err != nil || m.Type != "SUBSCRIBE" {
				continue
			}
			filter.Store(typeSet(m.Types))
		}
		sub.Close()
		<-done
		s.log.Debug("stream closed", zap.String("remote", r.RemoteAddr))
	}
}

func typeSet(types []string) *map[string]bool {
	set := map[string]bool{}
	for _, t := range types {
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p != "" {
				set[p] = true
			}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return &set
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// IsLoopbackRemote reports whether remoteAddr is a loopback address.
func IsLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
