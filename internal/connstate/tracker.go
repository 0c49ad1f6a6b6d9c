package connstate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goevery/ideaboard/internal/fanout"
	"github.com/goevery/ideaboard/internal/hub"
	"github.com/goevery/ideaboard/internal/ierr"
	"go.uber.org/zap"
)

type ConnectionType string

const (
	ConnectionWebSocket ConnectionType = "websocket"
	ConnectionRest      ConnectionType = "rest"
	ConnectionOffline   ConnectionType = "offline"
)

const (
	ErrorOffline      = "No internet connection"
	ErrorDisconnected = "Disconnected"
)

var errOffline = errors.New(ErrorOffline)

// State is the connection status shown to the user. An empty Error means no
// error. Offline always implies !IsConnected.
type State struct {
	IsConnected       bool           `json:"isConnected"`
	ConnectionType    ConnectionType `json:"connectionType"`
	ReconnectAttempts int            `json:"reconnectAttempts"`
	Error             string         `json:"error,omitempty"`
}

// Reconnector performs the actual push channel handshake for Tracker.Reconnect.
type Reconnector func(ctx context.Context) error

type Settings struct {
	SettleDelay time.Duration
}

func DefaultSettings() Settings {
	return Settings{SettleDelay: time.Second}
}

type Tracker struct {
	logger      *zap.Logger
	monitor     NetworkMonitor
	settings    Settings
	reconnector Reconnector

	mu          sync.Mutex
	state       State
	unsubscribe []func()
	listeners   fanout.List[State]
}

// NewTracker starts from the monitor's current status and follows its
// transitions until Close. reconnector may be nil.
func NewTracker(logger *zap.Logger, monitor NetworkMonitor, settings Settings, reconnector Reconnector) *Tracker {
	t := &Tracker{
		logger:      logger,
		monitor:     monitor,
		settings:    settings,
		reconnector: reconnector,
	}

	if monitor.Online() {
		t.state = State{IsConnected: true, ConnectionType: ConnectionRest}
	} else {
		t.state = offlineState(State{})
	}

	t.unsubscribe = append(t.unsubscribe, monitor.Subscribe(t.handleNetwork))

	return t
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// Subscribe receives every state change.
func (t *Tracker) Subscribe(fn func(State)) (remove func()) {
	return t.listeners.Add(fn)
}

// Reconnect fails fast with a Network error while offline, leaving
// IsConnected as it was. Otherwise it waits for the settle delay, runs the
// reconnector and reports a websocket connection.
func (t *Tracker) Reconnect(ctx context.Context) error {
	if !t.monitor.Online() {
		return t.offline()
	}

	t.update(func(s State) State {
		s.ReconnectAttempts++
		return s
	})

	timer := time.NewTimer(t.settings.SettleDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if !t.monitor.Online() {
		return t.offline()
	}

	if t.reconnector != nil {
		if err := t.reconnector(ctx); err != nil {
			t.logger.Warn("reconnect failed", zap.Error(err))

			t.update(func(s State) State {
				s.IsConnected = false
				s.Error = ierr.MessageOf(err)
				return s
			})

			return err
		}
	}

	t.update(func(State) State {
		return State{IsConnected: true, ConnectionType: ConnectionWebSocket}
	})

	return nil
}

func (t *Tracker) offline() error {
	t.update(func(s State) State {
		s.Error = ErrorOffline
		return s
	})

	return ierr.New(ierr.ErrorCodeNetwork, errOffline)
}

func (t *Tracker) Disconnect() {
	t.update(func(s State) State {
		s.IsConnected = false
		s.Error = ErrorDisconnected
		return s
	})
}

func (t *Tracker) ClearError() {
	t.update(func(s State) State {
		s.Error = ""
		return s
	})
}

// Attach mirrors the lifecycle of a hub connection into the state until the
// returned detach is called or Close runs.
func (t *Tracker) Attach(conn *hub.Connection) (detach func()) {
	removes := []func(){
		conn.OnReconnecting(func(event hub.ReconnectEvent) {
			t.update(func(s State) State {
				if s.ConnectionType == ConnectionOffline {
					s.ReconnectAttempts = event.Attempt
					return s
				}

				return State{ConnectionType: ConnectionRest, ReconnectAttempts: event.Attempt, Error: s.Error}
			})
		}),
		conn.OnReconnected(func() {
			t.update(func(State) State {
				return State{IsConnected: true, ConnectionType: ConnectionWebSocket}
			})
		}),
		conn.OnClose(func(err error) {
			t.update(func(s State) State {
				if s.ConnectionType == ConnectionWebSocket {
					s.ConnectionType = ConnectionRest
				}

				if err != nil {
					s.IsConnected = false
					s.Error = ierr.MessageOf(err)
				}

				return s
			})
		}),
	}

	if conn.State() == hub.StateConnected && t.monitor.Online() {
		t.update(func(State) State {
			return State{IsConnected: true, ConnectionType: ConnectionWebSocket}
		})
	}

	var once sync.Once
	detach = func() {
		once.Do(func() {
			for _, remove := range removes {
				remove()
			}
		})
	}

	t.mu.Lock()
	t.unsubscribe = append(t.unsubscribe, detach)
	t.mu.Unlock()

	return detach
}

// Close drops the network subscription and every attached connection.
func (t *Tracker) Close() {
	t.mu.Lock()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
}

func (t *Tracker) handleNetwork(online bool) {
	t.logger.Info("network status", zap.Bool("online", online))

	if !online {
		t.update(offlineState)
		return
	}

	t.update(func(s State) State {
		return State{IsConnected: true, ConnectionType: ConnectionRest}
	})
}

func offlineState(s State) State {
	return State{
		ConnectionType:    ConnectionOffline,
		ReconnectAttempts: s.ReconnectAttempts,
		Error:             ErrorOffline,
	}
}

func (t *Tracker) update(fn func(State) State) {
	t.mu.Lock()
	previous := t.state
	next := fn(previous)

	if next.ConnectionType == ConnectionOffline {
		next.IsConnected = false
	}

	if next.IsConnected && !previous.IsConnected {
		next.ReconnectAttempts = 0
	}

	t.state = next
	t.mu.Unlock()

	if next != previous {
		t.listeners.Emit(next)
	}
}
