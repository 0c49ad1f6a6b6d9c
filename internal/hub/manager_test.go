package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goevery/ideaboard/internal/hubtest"
	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testSettings() Settings {
	settings := DefaultSettings()
	settings.HandshakeTimeout = 2 * time.Second
	settings.InvokeTimeout = 2 * time.Second
	settings.HeartbeatInterval = time.Minute
	settings.InitialReconnectDelay = 10 * time.Millisecond
	settings.MaxReconnectDelay = 50 * time.Millisecond
	settings.MaxReconnectAttempts = 3

	return settings
}

func newTestManager(t *testing.T) (*Manager, *hubtest.Server) {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	server := hubtest.NewServer(logger, "test-secret")
	t.Cleanup(server.Close)

	manager, err := NewManager(logger, server.URL(), testSettings())
	require.NoError(t, err)
	t.Cleanup(manager.DisconnectAll)

	return manager, server
}

func staticToken(token string) TokenFunc {
	return func(ctx context.Context) (string, error) {
		return token, nil
	}
}

func TestManager_Connect(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent connects share one transport", func(t *testing.T) {
		manager, server := newTestManager(t)
		server.SetHandshakeDelay(200 * time.Millisecond)

		var wg sync.WaitGroup
		conns := make([]*Connection, 2)
		errs := make([]error, 2)

		for i := range conns {
			wg.Add(1)
			go func() {
				defer wg.Done()
				conns[i], errs[i] = manager.Connect(ctx, "comments", "/hubs/comments", nil)
			}()
		}

		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Same(t, conns[0], conns[1])
		assert.Equal(t, 1, server.Accepted())
	})

	t.Run("a cancelled caller does not fail the shared build", func(t *testing.T) {
		manager, server := newTestManager(t)
		server.SetHandshakeDelay(300 * time.Millisecond)

		leaderCtx, cancel := context.WithCancel(ctx)
		leaderErr := make(chan error, 1)
		go func() {
			_, err := manager.Connect(leaderCtx, "comments", "/hubs/comments", nil)
			leaderErr <- err
		}()

		time.Sleep(50 * time.Millisecond)

		followerConn := make(chan *Connection, 1)
		followerErr := make(chan error, 1)
		go func() {
			conn, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
			followerConn <- conn
			followerErr <- err
		}()

		time.Sleep(50 * time.Millisecond)
		cancel()

		assert.ErrorIs(t, <-leaderErr, context.Canceled)
		require.NoError(t, <-followerErr)
		conn := <-followerConn
		assert.Equal(t, StateConnected, conn.State())
		assert.Same(t, conn, manager.GetConnection("comments"))
		assert.Equal(t, 1, server.Accepted())
	})

	t.Run("connect while connected is a no-op", func(t *testing.T) {
		manager, server := newTestManager(t)

		first, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		second, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, 1, server.Accepted())
		assert.True(t, manager.IsConnected("comments"))
		assert.Equal(t, StateConnected, first.State())
	})

	t.Run("failed start is not cached", func(t *testing.T) {
		manager, server := newTestManager(t)
		server.SetRejectUpgrades(true)

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)

		assert.Nil(t, conn)
		assert.True(t, ierr.Is(err, ierr.ErrorCodeTransportStart))
		assert.Nil(t, manager.GetConnection("comments"))
		assert.False(t, manager.IsConnected("comments"))
		assert.Equal(t, 0, server.Accepted())
	})

	t.Run("rejected token fails the start", func(t *testing.T) {
		manager, _ := newTestManager(t)

		_, err := manager.Connect(ctx, "comments", "/hubs/comments", staticToken("garbage"))

		assert.True(t, ierr.Is(err, ierr.ErrorCodeTransportStart))
		assert.Equal(t, 0, manager.Len())
	})

	t.Run("closed connection is evicted and rebuilt", func(t *testing.T) {
		manager, server := newTestManager(t)

		first, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		closed := make(chan error, 1)
		first.OnClose(func(err error) { closed <- err })

		server.SetRejectUpgrades(true)
		server.DropAll()

		select {
		case err := <-closed:
			assert.True(t, ierr.Is(err, ierr.ErrorCodeTransportDisruption))
		case <-time.After(5 * time.Second):
			t.Fatal("connection never closed")
		}

		assert.Eventually(t, func() bool {
			return manager.GetConnection("comments") == nil
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, StateDisconnected, first.State())

		server.SetRejectUpgrades(false)

		second, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		assert.NotSame(t, first, second)
		assert.Equal(t, 2, server.Accepted())
	})

	t.Run("disconnect all stops and evicts everything", func(t *testing.T) {
		manager, _ := newTestManager(t)

		comments, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)
		notifications, err := manager.Connect(ctx, "notifications", "/hubs/notifications", nil)
		require.NoError(t, err)

		manager.DisconnectAll()

		assert.Equal(t, 0, manager.Len())
		assert.Equal(t, StateDisconnected, comments.State())
		assert.Equal(t, StateDisconnected, notifications.State())
		assert.Nil(t, manager.GetConnection("comments"))
	})

	t.Run("disconnect of unknown hub is a no-op", func(t *testing.T) {
		manager, _ := newTestManager(t)

		manager.Disconnect("missing")

		assert.Equal(t, 0, manager.Len())
	})
}

func TestConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("handlers run in registration order", func(t *testing.T) {
		manager, server := newTestManager(t)

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)
		require.NoError(t, conn.Join(ctx, "idea:1"))

		var mu sync.Mutex
		var calls []string
		done := make(chan struct{})

		conn.On("CommentAdded", func(rpc.Message) {
			mu.Lock()
			calls = append(calls, "first")
			mu.Unlock()
		})
		conn.On("CommentAdded", func(rpc.Message) {
			mu.Lock()
			calls = append(calls, "second")
			mu.Unlock()
			close(done)
		})

		server.Broadcast("idea:1", "CommentAdded", map[string]string{"id": "c1"})

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []string{"first", "second"}, calls)
	})

	t.Run("reconnect re-evaluates the token and rejoins groups", func(t *testing.T) {
		manager, server := newTestManager(t)

		var tokenCalls atomic.Int32
		token := func(ctx context.Context) (string, error) {
			tokenCalls.Add(1)
			return server.Token("user-1", "Alice"), nil
		}

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", token)
		require.NoError(t, err)
		require.NoError(t, conn.Join(ctx, "idea:7"))

		var attempts atomic.Int32
		conn.OnReconnecting(func(event ReconnectEvent) {
			attempts.Store(int32(event.Attempt))
		})

		reconnected := make(chan struct{}, 1)
		conn.OnReconnected(func() { reconnected <- struct{}{} })

		received := make(chan rpc.Message, 1)
		conn.On("CommentAdded", func(message rpc.Message) { received <- message })

		server.DropAll()

		select {
		case <-reconnected:
		case <-time.After(5 * time.Second):
			t.Fatal("never reconnected")
		}

		assert.Equal(t, StateConnected, conn.State())
		assert.Equal(t, 0, conn.ReconnectAttempts())
		assert.GreaterOrEqual(t, attempts.Load(), int32(1))
		assert.GreaterOrEqual(t, tokenCalls.Load(), int32(2))
		assert.Eventually(t, func() bool {
			return server.Subscribers("idea:7") == 1
		}, time.Second, 10*time.Millisecond)
		assert.Same(t, conn, manager.GetConnection("comments"))

		server.Broadcast("idea:7", "CommentAdded", map[string]string{"id": "c9"})

		select {
		case message := <-received:
			assert.Equal(t, "idea:7", message.Channel)
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered after reconnect")
		}
	})

	t.Run("disconnect during a reconnect dial closes cleanly", func(t *testing.T) {
		manager, server := newTestManager(t)

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		var mu sync.Mutex
		var attempts []int
		conn.OnReconnecting(func(event ReconnectEvent) {
			mu.Lock()
			attempts = append(attempts, event.Attempt)
			mu.Unlock()
		})

		closed := make(chan error, 1)
		conn.OnClose(func(err error) { closed <- err })

		server.SetHandshakeDelay(3 * time.Second)
		server.DropAll()

		require.Eventually(t, func() bool {
			return conn.State() == StateReconnecting
		}, time.Second, 5*time.Millisecond)

		// let the first dial get stuck in the handshake
		time.Sleep(300 * time.Millisecond)
		manager.Disconnect("comments")

		select {
		case err := <-closed:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("connection never closed")
		}

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []int{1}, attempts)
		assert.Equal(t, StateDisconnected, conn.State())
	})

	t.Run("join while reconnecting is deferred to the rejoin", func(t *testing.T) {
		manager, server := newTestManager(t)

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		reconnected := make(chan struct{}, 1)
		conn.OnReconnected(func() { reconnected <- struct{}{} })

		server.SetHandshakeDelay(500 * time.Millisecond)
		server.DropAll()

		require.Eventually(t, func() bool {
			return conn.State() == StateReconnecting
		}, time.Second, 5*time.Millisecond)

		require.NoError(t, conn.Join(ctx, "idea:3"))
		assert.True(t, conn.Joined("idea:3"))

		server.SetHandshakeDelay(0)

		select {
		case <-reconnected:
		case <-time.After(5 * time.Second):
			t.Fatal("never reconnected")
		}

		assert.Eventually(t, func() bool {
			return server.Subscribers("idea:3") == 1
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("publish requires authentication", func(t *testing.T) {
		manager, _ := newTestManager(t)

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		err = conn.Publish(ctx, "idea:1", "UserTyping", map[string]string{"userId": "u"})

		assert.True(t, ierr.Is(err, ierr.ErrorCodeUnauthenticated))
	})

	t.Run("publish reaches other subscribers", func(t *testing.T) {
		manager, server := newTestManager(t)

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", staticToken(server.Token("user-1", "Alice")))
		require.NoError(t, err)

		err = conn.Publish(ctx, "idea:1", "UserTyping", map[string]string{"userId": "user-1"})
		require.NoError(t, err)

		pushed := server.Pushed()
		require.Len(t, pushed, 1)
		assert.Equal(t, "UserTyping", pushed[0].Event)
	})

	t.Run("invoke after stop reports a disruption", func(t *testing.T) {
		manager, _ := newTestManager(t)

		conn, err := manager.Connect(ctx, "comments", "/hubs/comments", nil)
		require.NoError(t, err)

		manager.Disconnect("comments")

		err = conn.Join(ctx, "idea:1")
		assert.True(t, ierr.Is(err, ierr.ErrorCodeTransportDisruption))
	})
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}
