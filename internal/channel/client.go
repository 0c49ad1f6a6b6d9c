package channel

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/goevery/ideaboard/internal/fanout"
	"github.com/goevery/ideaboard/internal/hub"
	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/rpc"
	"go.uber.org/zap"
)

const DefaultPrefix = "/hubs"

var errNotConnected = errors.New("channel client is not connected")

type decoder func(rpc.Message) error

// Client is the part shared by every typed channel client: it owns the
// binding between one hub connection and the typed subscriber lists.
type Client struct {
	logger  *zap.Logger
	manager *hub.Manager
	name    string
	path    string

	bindings map[EventKind]decoder
	joined   func(ctx context.Context, conn *hub.Connection) error

	mu          sync.Mutex
	userId      string
	token       string
	tokenSource hub.TokenFunc
	conn        *hub.Connection
	detach      []func()
}

func newClient(logger *zap.Logger, manager *hub.Manager, prefix string, name string) *Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Client{
		logger:   logger.With(zap.String("channel", name)),
		manager:  manager,
		name:     name,
		path:     strings.TrimRight(prefix, "/") + "/" + name,
		bindings: make(map[EventKind]decoder),
	}
}

func bind[T any](c *Client, kind EventKind, list *fanout.List[T]) {
	c.bindings[kind] = func(message rpc.Message) error {
		var v T
		if err := message.Decode(&v); err != nil {
			return err
		}

		list.Emit(v)

		return nil
	}
}

// SetTokenSource makes every dial ask source for a fresh token instead of
// reusing the one passed to Connect.
func (c *Client) SetTokenSource(source hub.TokenFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tokenSource = source
}

// Connect is a no-op while the hub connection is up.
func (c *Client) Connect(ctx context.Context, userId string, token string) error {
	if c.IsConnected() {
		return nil
	}

	c.mu.Lock()
	c.userId = userId
	c.token = token
	c.mu.Unlock()

	conn, err := c.manager.Connect(ctx, c.name, c.path, c.currentToken)
	if err != nil {
		return err
	}

	c.attach(conn)

	if c.joined != nil {
		return c.joined(ctx, conn)
	}

	return nil
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	c.detachLocked()
	c.mu.Unlock()

	c.manager.Disconnect(c.name)
}

func (c *Client) IsConnected() bool {
	return c.manager.IsConnected(c.name)
}

func (c *Client) UserId() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.userId
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	source := c.tokenSource
	token := c.token
	c.mu.Unlock()

	if source != nil {
		return source(ctx)
	}

	return token, nil
}

func (c *Client) attach(conn *hub.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		return
	}

	c.detachLocked()
	c.conn = conn

	for kind, decode := range c.bindings {
		c.detach = append(c.detach, conn.On(string(kind), func(message rpc.Message) {
			if err := decode(message); err != nil {
				c.logger.Warn("dropping malformed event",
					zap.String("event", string(kind)),
					zap.String("group", message.Channel),
					zap.Error(err))
			}
		}))
	}
}

func (c *Client) detachLocked() {
	for _, remove := range c.detach {
		remove()
	}

	c.detach = nil
	c.conn = nil
}

func (c *Client) connection() (*hub.Connection, error) {
	conn := c.manager.GetConnection(c.name)
	if conn == nil {
		return nil, ierr.New(ierr.ErrorCodeTransportDisruption, errNotConnected)
	}

	c.attach(conn)

	return conn, nil
}

func (c *Client) join(ctx context.Context, group string) error {
	if err := ValidateGroup(group); err != nil {
		return err
	}

	conn, err := c.connection()
	if err != nil {
		return err
	}

	return conn.Join(ctx, group)
}

func (c *Client) leave(ctx context.Context, group string) error {
	conn, err := c.connection()
	if err != nil {
		return err
	}

	return conn.Leave(ctx, group)
}

func (c *Client) publish(ctx context.Context, group string, kind EventKind, payload any) error {
	if err := ValidateGroup(group); err != nil {
		return err
	}

	conn, err := c.connection()
	if err != nil {
		return err
	}

	return conn.Publish(ctx, group, string(kind), payload)
}
