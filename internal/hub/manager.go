package hub

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager owns at most one connection per hub name. Construct one per
// application and hand it to the channel clients.
type Manager struct {
	logger   *zap.Logger
	baseURL  *url.URL
	settings Settings
	dialer   *websocket.Dialer

	mu          sync.RWMutex
	connections map[string]*Connection
	inflight    singleflight.Group
}

func NewManager(logger *zap.Logger, baseURL string, settings Settings) (*Manager, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, ierr.Newf(ierr.ErrorCodeInvalidArgument, "unsupported hub url scheme %q", u.Scheme)
	}

	dialer := &websocket.Dialer{
		Proxy:             websocket.DefaultDialer.Proxy,
		HandshakeTimeout:  settings.HandshakeTimeout,
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		EnableCompression: true,
	}

	return &Manager{
		logger:      logger,
		baseURL:     u,
		settings:    settings,
		dialer:      dialer,
		connections: make(map[string]*Connection),
	}, nil
}

// Connect returns the live connection for name, building and starting one
// when there is none. Concurrent calls for the same name share one build. A
// failed start is returned to every waiting caller and nothing is cached.
// The shared build is not tied to any caller's cancellation; a caller whose
// ctx ends stops waiting while the build carries on for the others.
func (m *Manager) Connect(ctx context.Context, name string, path string, token TokenFunc) (*Connection, error) {
	if conn := m.live(name); conn != nil {
		return conn, nil
	}

	results := m.inflight.DoChan(name, func() (any, error) {
		if conn := m.live(name); conn != nil {
			return conn, nil
		}

		logger := m.logger.With(zap.String("hub", name))
		conn := newConnection(logger, name, m.endpoint(path), token, m.settings, m.dialer)

		m.watch(name, conn)

		startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*m.settings.HandshakeTimeout)
		defer cancel()

		if err := conn.start(startCtx); err != nil {
			logger.Error("failed to start hub connection", zap.Error(err))
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		if conn.State() == StateDisconnected {
			return nil, ierr.New(ierr.ErrorCodeTransportStart, errors.New("connection closed during start"))
		}

		m.connections[name] = conn

		return conn, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}

		return result.Val.(*Connection), nil
	}
}

// GetConnection is a pure lookup; it returns nil when nothing is cached.
func (m *Manager) GetConnection(name string) *Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.connections[name]
}

func (m *Manager) IsConnected(name string) bool {
	conn := m.GetConnection(name)

	return conn != nil && conn.State() == StateConnected
}

func (m *Manager) Disconnect(name string) {
	m.mu.Lock()
	conn, ok := m.connections[name]
	delete(m.connections, name)
	m.mu.Unlock()

	if !ok {
		return
	}

	m.logger.Info("disconnecting hub", zap.String("hub", name))
	conn.Stop()
}

func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	connections := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range connections {
		conn.Stop()
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.connections)
}

func (m *Manager) live(name string) *Connection {
	conn := m.GetConnection(name)
	if conn == nil || conn.State() == StateDisconnected {
		return nil
	}

	return conn
}

func (m *Manager) watch(name string, conn *Connection) {
	conn.OnReconnecting(func(event ReconnectEvent) {
		m.logger.Info("hub reconnecting",
			zap.String("hub", name),
			zap.Int("attempt", event.Attempt),
			zap.Error(event.Err))
	})

	conn.OnReconnected(func() {
		m.logger.Info("hub reconnected", zap.String("hub", name))
	})

	conn.OnClose(func(err error) {
		m.evict(name, conn)
	})
}

// evict removes conn only if it is still the cached instance for name.
func (m *Manager) evict(name string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connections[name] == conn {
		delete(m.connections, name)
	}
}

func (m *Manager) endpoint(path string) string {
	u := *m.baseURL

	rest, query, _ := strings.Cut(path, "?")
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(rest, "/")
	u.RawQuery = query

	return u.String()
}
