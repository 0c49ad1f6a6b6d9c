package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goevery/ideaboard/internal/fanout"
	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/rpc"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenFunc supplies the bearer token for a dial. It is called again on every
// reconnect so an expiring token can be refreshed in between.
type TokenFunc func(ctx context.Context) (string, error)

var errNotConnected = errors.New("hub transport is not connected")

type Connection struct {
	logger   *zap.Logger
	name     string
	url      string
	token    TokenFunc
	settings Settings
	dialer   *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	state    State
	ws       *websocket.Conn
	attempts int
	groups   map[string]struct{}
	handlers map[string]*fanout.List[rpc.Message]
	closed   bool

	reconnecting fanout.List[ReconnectEvent]
	reconnected  fanout.List[struct{}]
	closing      fanout.List[error]

	writeMu   sync.Mutex
	requestId atomic.Int64
	pendingMu sync.Mutex
	pending   map[int]chan rpc.Response
}

func newConnection(
	logger *zap.Logger,
	name string,
	url string,
	token TokenFunc,
	settings Settings,
	dialer *websocket.Dialer,
) *Connection {
	ctx, cancel := context.WithCancel(context.Background())

	return &Connection{
		logger:   logger,
		name:     name,
		url:      url,
		token:    token,
		settings: settings,
		dialer:   dialer,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateDisconnected,
		groups:   make(map[string]struct{}),
		handlers: make(map[string]*fanout.List[rpc.Message]),
		pending:  make(map[int]chan rpc.Response),
	}
}

func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

func (c *Connection) ReconnectAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.attempts
}

// On registers fn for a server pushed event. Handlers of one event run in
// registration order on the read goroutine.
func (c *Connection) On(event string, fn func(rpc.Message)) (remove func()) {
	c.mu.Lock()
	list, ok := c.handlers[event]
	if !ok {
		list = &fanout.List[rpc.Message]{}
		c.handlers[event] = list
	}
	c.mu.Unlock()

	return list.Add(fn)
}

func (c *Connection) OnReconnecting(fn func(ReconnectEvent)) (remove func()) {
	return c.reconnecting.Add(fn)
}

func (c *Connection) OnReconnected(fn func()) (remove func()) {
	return c.reconnected.Add(func(struct{}) { fn() })
}

// OnClose fires once when the connection is gone for good. err is nil after Stop.
func (c *Connection) OnClose(fn func(err error)) (remove func()) {
	return c.closing.Add(fn)
}

// Join subscribes the connection to a hub group. Joined groups are joined
// again after every reconnect. While reconnecting the group is only recorded
// and the rejoin after the next dial subscribes it.
func (c *Connection) Join(ctx context.Context, group string) error {
	c.mu.Lock()
	if c.ws == nil && c.state == StateReconnecting {
		c.groups[group] = struct{}{}
		c.mu.Unlock()

		return nil
	}
	c.mu.Unlock()

	err := c.Invoke(ctx, rpc.MethodJoin, rpc.ChannelParams{ChannelId: group}, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.groups[group] = struct{}{}
	c.mu.Unlock()

	return nil
}

// Joined reports whether group is in the set rejoined after a reconnect.
func (c *Connection) Joined(group string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.groups[group]

	return ok
}

func (c *Connection) Leave(ctx context.Context, group string) error {
	c.mu.Lock()
	delete(c.groups, group)
	if c.ws == nil && c.state == StateReconnecting {
		c.mu.Unlock()

		return nil
	}
	c.mu.Unlock()

	return c.Invoke(ctx, rpc.MethodLeave, rpc.ChannelParams{ChannelId: group}, nil)
}

func (c *Connection) Publish(ctx context.Context, group string, event string, payload any) error {
	return c.Invoke(ctx, rpc.MethodPush, rpc.PushParams{
		ChannelId: group,
		Event:     event,
		Payload:   payload,
	}, nil)
}

// Invoke sends a request and waits for its reply. result may be nil.
func (c *Connection) Invoke(ctx context.Context, method string, params any, result any) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return ierr.New(ierr.ErrorCodeTransportDisruption, errNotConnected)
	}

	id := int(c.requestId.Add(1))

	request, err := rpc.NewRequest(id, method, params)
	if err != nil {
		return ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	replies := make(chan rpc.Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = replies
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(ws, request); err != nil {
		return ierr.New(ierr.ErrorCodeTransportDisruption, err)
	}

	timeout := time.NewTimer(c.settings.InvokeTimeout)
	defer timeout.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.C:
		return ierr.New(ierr.ErrorCodeTransportDisruption, fmt.Errorf("%s timed out", method))
	case response, ok := <-replies:
		if !ok {
			return ierr.New(ierr.ErrorCodeTransportDisruption, errNotConnected)
		}

		if response.IsFailure() {
			return ierr.New(ierr.ErrorCode(response.Error.Code), errors.New(response.Error.Message))
		}

		if result != nil && response.Result != nil {
			if err := json.Unmarshal(*response.Result, result); err != nil {
				return ierr.New(ierr.ErrorCodeInternal, err)
			}
		}

		return nil
	}
}

// Stop closes the transport and disables reconnection. Close handlers run
// asynchronously once the transport goroutine exits.
func (c *Connection) Stop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.state = StateDisconnected
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	c.cancel()

	if ws != nil {
		ws.Close()
	}
}

func (c *Connection) start(ctx context.Context) error {
	c.setState(StateConnecting)

	ws, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.closed = true
		c.mu.Unlock()

		c.cancel()

		return ierr.New(ierr.ErrorCodeTransportStart, err)
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		ws.Close()
		c.finish(nil)

		return ierr.New(ierr.ErrorCodeTransportStart, errors.New("connection stopped during start"))
	}

	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Info("hub connection established", zap.String("url", c.url))

	go c.run(ws)

	return nil
}

func (c *Connection) dial(ctx context.Context) (*websocket.Conn, error) {
	var token string
	if c.token != nil {
		var err error
		token, err = c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("token: %w", err)
		}
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}

		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	if token == "" {
		return ws, nil
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	// the read loop is not running yet, so the auth reply is read inline
	request, err := rpc.NewRequest(int(c.requestId.Add(1)), rpc.MethodAuth, rpc.AuthParams{Token: token})
	if err != nil {
		return nil, err
	}

	if err := c.write(ws, request); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	ws.SetReadDeadline(time.Now().Add(c.settings.HandshakeTimeout))

	var response rpc.Response
	if err := ws.ReadJSON(&response); err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	ws.SetReadDeadline(time.Time{})

	if response.IsFailure() {
		return nil, ierr.New(ierr.ErrorCode(response.Error.Code), errors.New(response.Error.Message))
	}

	success = true

	return ws, nil
}

func (c *Connection) run(ws *websocket.Conn) {
	resumed := false

	for {
		err := c.serve(ws, resumed)
		if c.ctx.Err() != nil {
			c.finish(nil)
			return
		}

		c.logger.Info("hub transport lost", zap.Error(err))

		ws = c.reconnect(err)
		if ws == nil {
			return
		}

		resumed = true
	}
}

func (c *Connection) serve(ws *websocket.Conn, resumed bool) error {
	done := make(chan error, 1)
	go func() {
		done <- c.readLoop(ws)
	}()

	if resumed {
		if err := c.rejoin(); err != nil {
			c.logger.Warn("failed to rejoin hub groups", zap.Error(err))
			ws.Close()

			return <-done
		}

		c.mu.Lock()
		c.state = StateConnected
		c.attempts = 0
		c.mu.Unlock()

		c.logger.Info("hub connection resumed")
		c.reconnected.Emit(struct{}{})
	}

	ticker := time.NewTicker(c.settings.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			ws.Close()
			<-done

			return c.ctx.Err()
		case err := <-done:
			return err
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, c.settings.WriteTimeout)
			err := c.Invoke(ctx, rpc.MethodHeartbeat, nil, nil)
			cancel()

			if err != nil && c.ctx.Err() == nil {
				c.logger.Warn("hub heartbeat failed", zap.Error(err))
				ws.Close()

				return <-done
			}
		}
	}
}

func (c *Connection) readLoop(ws *websocket.Conn) error {
	defer c.failPending()

	for {
		var frame rpc.Frame
		if err := ws.ReadJSON(&frame); err != nil {
			return err
		}

		if frame.IsReply() {
			c.resolve(frame.Response)
			continue
		}

		if frame.Method != rpc.NotificationBroadcast || frame.Params == nil {
			c.logger.Debug("ignoring hub frame", zap.String("method", frame.Method))
			continue
		}

		var message rpc.Message
		if err := json.Unmarshal(*frame.Params, &message); err != nil {
			c.logger.Warn("dropping malformed broadcast", zap.Error(err))
			continue
		}

		c.dispatch(message)
	}
}

func (c *Connection) dispatch(message rpc.Message) {
	c.mu.RLock()
	list, ok := c.handlers[message.Event]
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug("no handler for event", zap.String("event", message.Event))
		return
	}

	list.Emit(message)
}

func (c *Connection) reconnect(cause error) *websocket.Conn {
	c.mu.Lock()
	c.ws = nil
	c.state = StateReconnecting
	c.mu.Unlock()

	policy := c.settings.newBackOff()

	for {
		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		if c.settings.MaxReconnectAttempts > 0 && attempt > c.settings.MaxReconnectAttempts {
			c.logger.Error("giving up reconnecting", zap.Int("attempts", attempt-1), zap.Error(cause))
			c.finish(ierr.New(ierr.ErrorCodeTransportDisruption, cause))

			return nil
		}

		delay := policy.NextBackOff()
		if delay == backoff.Stop {
			c.finish(ierr.New(ierr.ErrorCodeTransportDisruption, cause))
			return nil
		}

		c.logger.Info("hub reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		c.reconnecting.Emit(ReconnectEvent{Attempt: attempt, Err: cause})

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			c.finish(nil)

			return nil
		case <-timer.C:
		}

		ws, err := c.dial(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				c.finish(nil)
				return nil
			}

			c.logger.Warn("hub reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			cause = err

			continue
		}

		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.mu.Unlock()
			ws.Close()
			c.finish(nil)

			return nil
		}

		c.ws = ws
		c.mu.Unlock()

		return ws
	}
}

func (c *Connection) rejoin() error {
	c.mu.RLock()
	groups := make([]string, 0, len(c.groups))
	for group := range c.groups {
		groups = append(groups, group)
	}
	c.mu.RUnlock()

	for _, group := range groups {
		ctx, cancel := context.WithTimeout(c.ctx, c.settings.InvokeTimeout)
		err := c.Invoke(ctx, rpc.MethodJoin, rpc.ChannelParams{ChannelId: group}, nil)
		cancel()

		if err != nil {
			return fmt.Errorf("rejoin %s: %w", group, err)
		}
	}

	return nil
}

func (c *Connection) finish(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true
	c.state = StateDisconnected
	c.ws = nil
	c.mu.Unlock()

	c.cancel()

	c.logger.Info("hub connection closed", zap.Error(err))
	c.closing.Emit(err)
}

func (c *Connection) write(ws *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))

	return ws.WriteJSON(v)
}

func (c *Connection) resolve(response rpc.Response) {
	c.pendingMu.Lock()
	replies, ok := c.pending[response.RequestId]
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("reply for unknown request", zap.Int("requestId", response.RequestId))
		return
	}

	select {
	case replies <- response:
	default:
	}
}

func (c *Connection) failPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for id, replies := range c.pending {
		close(replies)
		delete(c.pending, id)
	}
}

func (c *Connection) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = state
}
