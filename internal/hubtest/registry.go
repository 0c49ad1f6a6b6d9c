package hubtest

import (
	"errors"
	"sync"

	"github.com/goevery/ideaboard/internal/rpc"
	"go.uber.org/zap"
)

type Connection struct {
	Id   string
	Send chan rpc.Message

	mu      sync.RWMutex
	subject string
}

func (c *Connection) SetSubject(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subject = subject
}

func (c *Connection) Subject() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.subject
}

type Registry struct {
	logger *zap.Logger
	mu     sync.RWMutex

	connections          map[string]*Connection
	connectionsByChannel map[string]map[string]struct{}
	channelsByConnection map[string]map[string]struct{}
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:               logger,
		connections:          make(map[string]*Connection),
		connectionsByChannel: make(map[string]map[string]struct{}),
		channelsByConnection: make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Add(connection *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[connection.Id] = connection
	r.channelsByConnection[connection.Id] = make(map[string]struct{})
}

func (r *Registry) Broadcast(message rpc.Message) {
	r.mu.RLock()

	connectionIds := r.connectionsByChannel[message.Channel]
	connections := make([]*Connection, 0, len(connectionIds))
	for connectionId := range connectionIds {
		if connection, ok := r.connections[connectionId]; ok {
			connections = append(connections, connection)
		}
	}

	var staleConnectionIds []string

	for _, connection := range connections {
		select {
		case connection.Send <- message:
		default:
			r.logger.Warn("connection send channel is full, closing connection",
				zap.String("connectionId", connection.Id))

			staleConnectionIds = append(staleConnectionIds, connection.Id)
		}
	}

	r.mu.RUnlock()

	if len(staleConnectionIds) == 0 {
		return
	}

	r.mu.Lock()
	for _, connectionId := range staleConnectionIds {
		r.disconnectLocked(connectionId)
	}
	r.mu.Unlock()
}

func (r *Registry) Subscribe(channelId string, connectionId string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	connectionChannels, ok := r.channelsByConnection[connectionId]
	if !ok {
		return errors.New("connection not registered")
	}

	if _, ok := r.connectionsByChannel[channelId]; !ok {
		r.connectionsByChannel[channelId] = make(map[string]struct{})
	}

	r.connectionsByChannel[channelId][connectionId] = struct{}{}
	connectionChannels[channelId] = struct{}{}

	return nil
}

func (r *Registry) Unsubscribe(channelId string, connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if connectionChannels, ok := r.channelsByConnection[connectionId]; ok {
		delete(connectionChannels, channelId)
	}

	if channelConnections, ok := r.connectionsByChannel[channelId]; ok {
		delete(channelConnections, connectionId)
		if len(channelConnections) == 0 {
			delete(r.connectionsByChannel, channelId)
		}
	}
}

func (r *Registry) Subscribers(channelId string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.connectionsByChannel[channelId])
}

func (r *Registry) Disconnect(connectionId string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.disconnectLocked(connectionId)
}

// IMPORTANT: It must be called only when a write lock is already held.
func (r *Registry) disconnectLocked(connectionId string) {
	connection, ok := r.connections[connectionId]
	if !ok {
		return
	}

	for channelId := range r.channelsByConnection[connectionId] {
		channelConnections := r.connectionsByChannel[channelId]

		delete(channelConnections, connectionId)
		if len(channelConnections) == 0 {
			delete(r.connectionsByChannel, channelId)
		}
	}

	delete(r.channelsByConnection, connectionId)
	delete(r.connections, connectionId)
	close(connection.Send)
}
