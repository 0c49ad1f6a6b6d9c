// Package hubtest runs an in-process hub speaking the broadcaster protocol so
// realtime clients can be exercised end to end.
package hubtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goevery/ideaboard/internal/auth"
	"github.com/goevery/ideaboard/internal/rpc"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

type Server struct {
	logger   *zap.Logger
	secret   string
	upgrader *websocket.Upgrader
	registry *Registry
	router   *Router

	httpServer *httptest.Server

	mu             sync.Mutex
	sockets        map[string]*websocket.Conn
	handshakeDelay time.Duration
	rejectUpgrades bool
	accepted       atomic.Int64
}

func NewServer(logger *zap.Logger, secret string) *Server {
	registry := NewRegistry(logger)
	authenticator := auth.NewAuthenticator(secret)

	s := &Server{
		logger: logger,
		secret: secret,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			EnableCompression: true,
		},
		registry: registry,
		router:   NewRouter(logger, registry, authenticator),
		sockets:  make(map[string]*websocket.Conn),
	}

	router := mux.NewRouter()
	router.HandleFunc("/hubs/{hub}", s.serveWebSocket)
	router.HandleFunc("/signalr/{hub}", s.serveWebSocket)

	s.httpServer = httptest.NewServer(router)

	return s
}

func (s *Server) URL() string {
	return s.httpServer.URL
}

func (s *Server) Close() {
	s.DropAll()
	s.httpServer.Close()
}

// Token signs a token the hub accepts.
func (s *Server) Token(subject string, name string) string {
	token, err := auth.Sign(s.secret, subject, name, time.Hour)
	if err != nil {
		panic(err)
	}

	return token
}

// Accepted counts upgraded transports since the server started.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

func (s *Server) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sockets)
}

func (s *Server) Subscribers(channelId string) int {
	return s.registry.Subscribers(channelId)
}

func (s *Server) Pushed() []rpc.Message {
	return s.router.Pushed()
}

func (s *Server) SetHandshakeDelay(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handshakeDelay = delay
}

func (s *Server) SetRejectUpgrades(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rejectUpgrades = reject
}

// DropAll closes every live transport without a close frame.
func (s *Server) DropAll() {
	s.mu.Lock()
	sockets := make([]*websocket.Conn, 0, len(s.sockets))
	for _, socket := range s.sockets {
		sockets = append(sockets, socket)
	}
	s.mu.Unlock()

	for _, socket := range sockets {
		socket.Close()
	}
}

func (s *Server) Broadcast(channelId string, event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}

	s.registry.Broadcast(s.router.newMessage(channelId, event, raw))
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.handshakeDelay
	reject := s.rejectUpgrades
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if reject {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}

	if header := r.Header.Get("Authorization"); header != "" {
		token := strings.TrimPrefix(header, "Bearer ")
		if _, err := s.router.authenticator.Authenticate(token); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	s.accepted.Add(1)

	connection := &Connection{
		Id:   gonanoid.Must(),
		Send: make(chan rpc.Message, 64),
	}

	s.registry.Add(connection)

	s.mu.Lock()
	s.sockets[connection.Id] = conn
	s.mu.Unlock()

	s.logger.Debug("websocket connection established",
		zap.String("hub", mux.Vars(r)["hub"]),
		zap.String("connectionId", connection.Id))

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()

		return conn.WriteJSON(v)
	}

	go func() {
		for message := range connection.Send {
			raw, err := json.Marshal(message)
			if err != nil {
				continue
			}

			params := json.RawMessage(raw)
			if err := write(rpc.NewNotification(rpc.NotificationBroadcast, &params)); err != nil {
				return
			}
		}
	}()

	defer func() {
		s.registry.Disconnect(connection.Id)

		s.mu.Lock()
		delete(s.sockets, connection.Id)
		s.mu.Unlock()

		conn.Close()

		s.logger.Debug("websocket connection closed", zap.String("connectionId", connection.Id))
	}()

	for {
		var request rpc.Request
		if err := conn.ReadJSON(&request); err != nil {
			return
		}

		response := s.router.RouteRequest(r.Context(), connection, request)
		if response == nil {
			continue
		}

		if err := write(response); err != nil {
			return
		}
	}
}
