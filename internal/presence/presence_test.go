package presence

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goevery/ideaboard/internal/channel"
	"github.com/goevery/ideaboard/internal/clock"
	"github.com/goevery/ideaboard/internal/hub"
	"github.com/goevery/ideaboard/internal/hubtest"
	"github.com/goevery/ideaboard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = model.User{Id: "u1", DisplayName: "Alice"}
	bob   = model.User{Id: "u2", DisplayName: "Bob"}
)

func ids(users []model.User) []string {
	var result []string
	for _, user := range users {
		result = append(result, user.Id)
	}

	return result
}

func TestSet(t *testing.T) {
	set := NewSet()

	var changes int
	set.OnChange(func([]model.User) { changes++ })

	assert.True(t, set.Add(alice))
	assert.True(t, set.Add(bob))
	assert.False(t, set.Add(model.User{Id: "u1", DisplayName: "Alice L."}))

	assert.Equal(t, []string{"u1", "u2"}, ids(set.Members()))
	assert.Equal(t, "Alice L.", set.Members()[0].DisplayName)
	assert.Equal(t, 2, changes)

	assert.True(t, set.Remove("u1"))
	assert.False(t, set.Remove("u1"))
	assert.False(t, set.Has("u1"))
	assert.Equal(t, 1, set.Len())

	set.Clear()
	assert.Equal(t, 0, set.Len())
	assert.Equal(t, 4, changes)
}

func TestTypingSet(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("touch restarts the expiry window", func(t *testing.T) {
		fake := clock.NewFake(start)
		typing := NewTypingSet(fake, 5*time.Second)

		typing.Touch(alice)

		fake.Advance(4000 * time.Millisecond)
		typing.Touch(alice)

		fake.Advance(500 * time.Millisecond)
		assert.True(t, typing.Has("u1"))

		fake.Advance(4600 * time.Millisecond)
		assert.False(t, typing.Has("u1"))
		assert.Equal(t, 0, fake.Pending())
	})

	t.Run("entries expire independently", func(t *testing.T) {
		fake := clock.NewFake(start)
		typing := NewTypingSet(fake, 0)

		typing.Touch(alice)
		fake.Advance(2 * time.Second)
		typing.Touch(bob)

		fake.Advance(3 * time.Second)
		assert.Equal(t, []string{"u2"}, ids(typing.Members()))

		fake.Advance(2 * time.Second)
		assert.Equal(t, 0, typing.Len())
	})

	t.Run("remove cancels the expiry", func(t *testing.T) {
		fake := clock.NewFake(start)
		typing := NewTypingSet(fake, 5*time.Second)

		var changes [][]string
		typing.OnChange(func(users []model.User) { changes = append(changes, ids(users)) })

		typing.Touch(alice)
		typing.Touch(alice)
		assert.True(t, typing.Remove("u1"))
		assert.Equal(t, 0, fake.Pending())

		assert.Equal(t, [][]string{{"u1"}, nil}, changes)
	})

	t.Run("close stops timers and ignores later touches", func(t *testing.T) {
		fake := clock.NewFake(start)
		typing := NewTypingSet(fake, 5*time.Second)

		typing.Touch(alice)
		typing.Touch(bob)
		typing.Close()

		assert.Equal(t, 0, fake.Pending())
		assert.Equal(t, 0, typing.Len())

		typing.Touch(alice)
		assert.Equal(t, 0, typing.Len())

		typing.Reopen()
		typing.Touch(alice)
		assert.True(t, typing.Has("u1"))
		assert.Equal(t, 1, fake.Pending())
	})
}

func TestLabel(t *testing.T) {
	assert.Equal(t, Summary{}, Label(nil))

	summary := Label([]model.User{alice})
	assert.Equal(t, "Alice viewing", summary.Text)
	assert.Len(t, summary.Avatars, 1)
	assert.Empty(t, summary.Overflow)

	assert.Equal(t, "2 viewing", Label([]model.User{alice, bob}).Text)

	var five []model.User
	for i := range 5 {
		five = append(five, model.User{Id: fmt.Sprintf("u%d", i)})
	}

	summary = Label(five)
	assert.Equal(t, "5 viewing", summary.Text)
	assert.Len(t, summary.Avatars, 4)
	assert.Equal(t, "+1", summary.Overflow)

	assert.Equal(t, "Alice is typing", TypingLabel([]model.User{alice}))
	assert.Equal(t, "Alice and Bob are typing", TypingLabel([]model.User{alice, bob}))
	assert.Equal(t, "5 people are typing", TypingLabel(five))
}

func newCommentsClient(t *testing.T, server *hubtest.Server, user model.User) *channel.CommentsClient {
	t.Helper()

	manager, err := hub.NewManager(zap.NewNop(), server.URL(), hub.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(manager.DisconnectAll)

	client := channel.NewCommentsClient(zap.NewNop(), manager, "")
	client.SetProfile(user)
	require.NoError(t, client.Connect(context.Background(), user.Id, server.Token(user.Id, user.DisplayName)))

	return client
}

func TestRoom(t *testing.T) {
	ctx := context.Background()

	server := hubtest.NewServer(zap.NewNop(), "test-secret")
	t.Cleanup(server.Close)

	aliceRoom := NewRoom(zap.NewNop(), newCommentsClient(t, server, alice), "7", nil, time.Minute)
	bobRoom := NewRoom(zap.NewNop(), newCommentsClient(t, server, bob), "7", nil, time.Minute)

	require.NoError(t, aliceRoom.Open(ctx))
	require.NoError(t, bobRoom.Open(ctx))

	assert.Eventually(t, func() bool {
		return aliceRoom.Viewers.Has("u2") && bobRoom.Viewers.Has("u1")
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "Bob viewing", aliceRoom.Summary().Text)
	assert.False(t, aliceRoom.Viewers.Has("u1"))

	require.NoError(t, bobRoom.client.StartTyping(ctx, "7"))
	assert.Eventually(t, func() bool { return aliceRoom.Typing.Has("u2") }, time.Second, 10*time.Millisecond)
	assert.False(t, bobRoom.Typing.Has("u2"))

	require.NoError(t, bobRoom.client.PublishComment(ctx, channel.EventCommentAdded, model.Comment{
		Id: "c1", IdeaId: "7", AuthorId: "u2", Content: "done",
	}))
	assert.Eventually(t, func() bool { return !aliceRoom.Typing.Has("u2") }, time.Second, 10*time.Millisecond)

	require.NoError(t, bobRoom.Close(ctx))
	assert.Equal(t, 0, bobRoom.Viewers.Len())
	assert.Eventually(t, func() bool { return !aliceRoom.Viewers.Has("u2") }, time.Second, 10*time.Millisecond)

	require.NoError(t, aliceRoom.Close(ctx))
	assert.Eventually(t, func() bool { return server.Subscribers(channel.IdeaGroup("7")) == 0 }, time.Second, 10*time.Millisecond)
}

func TestRoom_Reopen(t *testing.T) {
	ctx := context.Background()

	server := hubtest.NewServer(zap.NewNop(), "test-secret")
	t.Cleanup(server.Close)

	aliceRoom := NewRoom(zap.NewNop(), newCommentsClient(t, server, alice), "7", nil, time.Minute)
	bobRoom := NewRoom(zap.NewNop(), newCommentsClient(t, server, bob), "7", nil, time.Minute)

	require.NoError(t, aliceRoom.Open(ctx))
	require.NoError(t, aliceRoom.Close(ctx))
	require.NoError(t, aliceRoom.Open(ctx))
	require.NoError(t, bobRoom.Open(ctx))

	assert.Eventually(t, func() bool { return aliceRoom.Viewers.Has("u2") }, time.Second, 10*time.Millisecond)

	require.NoError(t, bobRoom.client.StartTyping(ctx, "7"))
	assert.Eventually(t, func() bool { return aliceRoom.Typing.Has("u2") }, time.Second, 10*time.Millisecond)
}
