package optimistic

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/goevery/ideaboard/internal/api"
	"github.com/goevery/ideaboard/internal/channel"
	"github.com/goevery/ideaboard/internal/hub"
	"github.com/goevery/ideaboard/internal/hubtest"
	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type commentsAPIMock struct {
	mock.Mock
}

func (m *commentsAPIMock) List(ctx context.Context, ideaId string) ([]model.Comment, error) {
	args := m.Called(ctx, ideaId)
	comments, _ := args.Get(0).([]model.Comment)

	return comments, args.Error(1)
}

func (m *commentsAPIMock) Create(ctx context.Context, ideaId string, input api.CommentInput) (*model.Comment, error) {
	args := m.Called(ctx, ideaId, input)
	comment, _ := args.Get(0).(*model.Comment)

	return comment, args.Error(1)
}

func (m *commentsAPIMock) Update(ctx context.Context, commentId string, content string) (*model.Comment, error) {
	args := m.Called(ctx, commentId, content)
	comment, _ := args.Get(0).(*model.Comment)

	return comment, args.Error(1)
}

func (m *commentsAPIMock) Delete(ctx context.Context, commentId string) error {
	return m.Called(ctx, commentId).Error(0)
}

var author = model.User{Id: "u1", DisplayName: "Alice"}

func contents(comments []model.Comment) []string {
	var result []string
	for _, comment := range comments {
		result = append(result, comment.Content)
	}

	return result
}

func TestCollection(t *testing.T) {
	key := func(v model.Comment) string { return v.Id }

	t.Run("push before confirm keeps one row", func(t *testing.T) {
		c := NewCollection(key)

		c.AddPending("temp-1", model.Comment{Id: "temp-1", Content: "hi"})
		c.Upsert(model.Comment{Id: "c1", Content: "hi"})
		assert.Len(t, c.Visible(), 2)

		assert.True(t, c.Confirm("temp-1", model.Comment{Id: "c1", Content: "hi"}))

		assert.Equal(t, []string{"hi"}, contents(c.Visible()))
		assert.Empty(t, c.Pending())
	})

	t.Run("push after confirm updates in place", func(t *testing.T) {
		c := NewCollection(key)

		c.AddPending("temp-1", model.Comment{Id: "temp-1", Content: "hi"})
		c.Confirm("temp-1", model.Comment{Id: "c1", Content: "hi"})
		c.Upsert(model.Comment{Id: "c1", Content: "hi!"})

		assert.Equal(t, []string{"hi!"}, contents(c.Visible()))
		assert.Equal(t, "temp-1", c.Confirmed()[0].TempId)
	})

	t.Run("late update after delete is ignored", func(t *testing.T) {
		c := NewCollection(key)
		c.Load([]model.Comment{{Id: "c1", Content: "a"}, {Id: "c2", Content: "b"}})

		c.Remove("c1")
		assert.False(t, c.Upsert(model.Comment{Id: "c1", Content: "a2"}))

		assert.Equal(t, []string{"b"}, contents(c.Visible()))
	})

	t.Run("confirm of a deleted entity drops the placeholder", func(t *testing.T) {
		c := NewCollection(key)

		c.AddPending("temp-1", model.Comment{Id: "temp-1"})
		c.Remove("c1")
		c.Confirm("temp-1", model.Comment{Id: "c1"})

		assert.Empty(t, c.Visible())
	})

	t.Run("rollback hides the entry", func(t *testing.T) {
		c := NewCollection(key)

		c.AddPending("temp-1", model.Comment{Id: "temp-1"})
		assert.True(t, c.Rollback("temp-1"))
		assert.False(t, c.Rollback("temp-1"))
		assert.False(t, c.Confirm("temp-1", model.Comment{Id: "c1"}))

		assert.Empty(t, c.Visible())
		assert.Len(t, c.RolledBack(), 1)
		assert.Equal(t, "rolledBack", c.RolledBack()[0].Status.String())
	})

	t.Run("load keeps pending entries last", func(t *testing.T) {
		c := NewCollection(key)

		c.AddPending("temp-1", model.Comment{Id: "temp-1", Content: "draft"})
		c.Load([]model.Comment{{Id: "c1", Content: "a"}})

		assert.Equal(t, []string{"a", "draft"}, contents(c.Visible()))
	})

	t.Run("change listeners see visible values", func(t *testing.T) {
		c := NewCollection(key)

		var seen [][]string
		c.OnChange(func(values []model.Comment) { seen = append(seen, contents(values)) })

		c.Upsert(model.Comment{Id: "c1", Content: "a"})
		c.Remove("c1")
		c.Remove("c1")

		assert.Equal(t, [][]string{{"a"}, nil}, seen)
	})
}

func TestCommentCoordinator_AddComment(t *testing.T) {
	ctx := context.Background()

	t.Run("pending reply is replaced by the created comment", func(t *testing.T) {
		rest := &commentsAPIMock{}
		coordinator := NewCommentCoordinator(zap.NewNop(), rest, "7", author)

		var pendingDuringCall []Entry[model.Comment]
		rest.On("Create", mock.Anything, "7", api.CommentInput{Content: "Thanks!", ParentId: "c1"}).
			Run(func(args mock.Arguments) {
				pendingDuringCall = coordinator.Comments().Pending()
			}).
			Return(&model.Comment{Id: "c42", IdeaId: "7", ParentId: "c1", AuthorId: "u1", Content: "Thanks!"}, nil)

		created, err := coordinator.AddComment(ctx, "Thanks!", "c1")
		require.NoError(t, err)

		require.Len(t, pendingDuringCall, 1)
		assert.True(t, IsTemporary(pendingDuringCall[0].Value.Id))
		assert.Equal(t, "Thanks!", pendingDuringCall[0].Value.Content)
		assert.Equal(t, "c1", pendingDuringCall[0].Value.ParentId)

		assert.Equal(t, "c42", created.Id)
		assert.Empty(t, coordinator.Comments().Pending())

		visible := coordinator.Comments().Visible()
		require.Len(t, visible, 1)
		assert.Equal(t, "c42", visible[0].Id)
		assert.Empty(t, coordinator.Err())

		rest.AssertExpectations(t)
	})

	t.Run("rejection rolls back and exposes the message", func(t *testing.T) {
		rest := &commentsAPIMock{}
		coordinator := NewCommentCoordinator(zap.NewNop(), rest, "7", author)

		rest.On("Create", mock.Anything, "7", mock.Anything).
			Return(nil, ierr.NewRest(http.StatusUnprocessableEntity, "Comment is too long", nil))

		_, err := coordinator.AddComment(ctx, "Thanks!", "")

		assert.True(t, ierr.Is(err, ierr.ErrorCodeOptimisticRollback))
		assert.True(t, ierr.Is(err, ierr.ErrorCodeRest))
		assert.Equal(t, http.StatusUnprocessableEntity, ierr.StatusOf(err))
		assert.Empty(t, coordinator.Comments().Pending())
		assert.Empty(t, coordinator.Comments().Visible())
		assert.Equal(t, "Comment is too long", coordinator.Err())

		coordinator.ClearError()
		assert.Empty(t, coordinator.Err())
	})

	t.Run("empty content never reaches the server", func(t *testing.T) {
		rest := &commentsAPIMock{}
		coordinator := NewCommentCoordinator(zap.NewNop(), rest, "7", author)

		_, err := coordinator.AddComment(ctx, "   ", "")

		assert.True(t, ierr.Is(err, ierr.ErrorCodeValidation))
		assert.Empty(t, coordinator.Comments().Visible())
		rest.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCommentCoordinator_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()

	rest := &commentsAPIMock{}
	coordinator := NewCommentCoordinator(zap.NewNop(), rest, "7", author)

	rest.On("List", mock.Anything, "7").Return([]model.Comment{
		{Id: "c1", IdeaId: "7", Content: "first"},
		{Id: "c2", IdeaId: "7", Content: "second"},
	}, nil)
	rest.On("Update", mock.Anything, "c1", "first, edited").
		Return(&model.Comment{Id: "c1", IdeaId: "7", Content: "first, edited"}, nil)
	rest.On("Delete", mock.Anything, "c2").Return(nil)
	rest.On("Delete", mock.Anything, "c9").Return(ierr.NewRest(http.StatusNotFound, "Comment not found", nil))

	require.NoError(t, coordinator.Load(ctx))

	_, err := coordinator.UpdateComment(ctx, "c1", "first, edited")
	require.NoError(t, err)

	require.NoError(t, coordinator.DeleteComment(ctx, "c2"))
	assert.Equal(t, []string{"first, edited"}, contents(coordinator.Comments().Visible()))

	err = coordinator.DeleteComment(ctx, "c9")
	assert.Equal(t, http.StatusNotFound, ierr.StatusOf(err))
	assert.Equal(t, "Comment not found", coordinator.Err())

	rest.AssertExpectations(t)
}

func TestCommentCoordinator_Bind(t *testing.T) {
	ctx := context.Background()

	server := hubtest.NewServer(zap.NewNop(), "test-secret")
	t.Cleanup(server.Close)

	manager, err := hub.NewManager(zap.NewNop(), server.URL(), hub.DefaultSettings())
	require.NoError(t, err)
	t.Cleanup(manager.DisconnectAll)

	client := channel.NewCommentsClient(zap.NewNop(), manager, "")
	require.NoError(t, client.Connect(ctx, "u1", server.Token("u1", "Alice")))
	require.NoError(t, client.JoinIdea(ctx, "7"))

	rest := &commentsAPIMock{}
	coordinator := NewCommentCoordinator(zap.NewNop(), rest, "7", author)
	unbind := coordinator.Bind(client)

	group := channel.IdeaGroup("7")
	server.Broadcast(group, string(channel.EventCommentAdded), channel.CommentEvent{
		IdeaId: "7", Comment: model.Comment{Id: "c1", IdeaId: "7", Content: "from bob"},
	})
	server.Broadcast(channel.IdeaGroup("8"), string(channel.EventCommentAdded), channel.CommentEvent{
		IdeaId: "8", Comment: model.Comment{Id: "c2", IdeaId: "8", Content: "elsewhere"},
	})
	server.Broadcast(group, string(channel.EventCommentDeleted), channel.CommentDeletedEvent{IdeaId: "7", CommentId: "c1"})
	server.Broadcast(group, string(channel.EventCommentUpdated), channel.CommentEvent{
		IdeaId: "7", Comment: model.Comment{Id: "c1", IdeaId: "7", Content: "resurrected"},
	})
	server.Broadcast(group, string(channel.EventCommentAdded), channel.CommentEvent{
		IdeaId: "7", Comment: model.Comment{Id: "c3", IdeaId: "7", Content: "last"},
	})

	assert.Eventually(t, func() bool {
		visible := contents(coordinator.Comments().Visible())
		return len(visible) == 1 && visible[0] == "last"
	}, time.Second, 10*time.Millisecond)

	unbind()

	server.Broadcast(group, string(channel.EventCommentAdded), channel.CommentEvent{
		IdeaId: "7", Comment: model.Comment{Id: "c4", IdeaId: "7", Content: "unseen"},
	})
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []string{"last"}, contents(coordinator.Comments().Visible()))
}
