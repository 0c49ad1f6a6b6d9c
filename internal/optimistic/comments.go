package optimistic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goevery/ideaboard/internal/api"
	"github.com/goevery/ideaboard/internal/channel"
	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/model"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const TempIdPrefix = "temp-"

// CommentsAPI is the part of the REST API the coordinator confirms against.
type CommentsAPI interface {
	List(ctx context.Context, ideaId string) ([]model.Comment, error)
	Create(ctx context.Context, ideaId string, input api.CommentInput) (*model.Comment, error)
	Update(ctx context.Context, commentId string, content string) (*model.Comment, error)
	Delete(ctx context.Context, commentId string) error
}

func commentKey(comment model.Comment) string {
	return comment.Id
}

func IsTemporary(id string) bool {
	return strings.HasPrefix(id, TempIdPrefix)
}

// CommentCoordinator keeps the comments of one idea. New comments show up
// as pending before the server answers; updates, deletions and pushed
// events are merged as they arrive.
type CommentCoordinator struct {
	logger   *zap.Logger
	api      CommentsAPI
	ideaId   string
	author   model.User
	comments *Collection[model.Comment]

	mu  sync.Mutex
	err string
}

func NewCommentCoordinator(logger *zap.Logger, api CommentsAPI, ideaId string, author model.User) *CommentCoordinator {
	return &CommentCoordinator{
		logger:   logger.With(zap.String("ideaId", ideaId)),
		api:      api,
		ideaId:   ideaId,
		author:   author,
		comments: NewCollection(commentKey),
	}
}

func (c *CommentCoordinator) Comments() *Collection[model.Comment] {
	return c.comments
}

func (c *CommentCoordinator) Load(ctx context.Context) error {
	comments, err := c.api.List(ctx, c.ideaId)
	if err != nil {
		c.setErr(err)
		return err
	}

	c.comments.Load(comments)

	return nil
}

// AddComment inserts a pending comment, then asks the server to create it.
// On failure the placeholder is rolled back and an OptimisticRollback error
// carrying the server message is returned.
func (c *CommentCoordinator) AddComment(ctx context.Context, content string, parentId string) (*model.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ierr.New(ierr.ErrorCodeValidation, errors.New("comment cannot be empty"))
	}

	tempId := TempIdPrefix + gonanoid.Must()
	author := c.author
	now := time.Now()

	c.comments.AddPending(tempId, model.Comment{
		Id:        tempId,
		IdeaId:    c.ideaId,
		ParentId:  parentId,
		AuthorId:  author.Id,
		Author:    &author,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	})

	created, err := c.api.Create(ctx, c.ideaId, api.CommentInput{Content: content, ParentId: parentId})
	if err != nil {
		c.comments.Rollback(tempId)
		c.setErr(err)

		c.logger.Warn("comment rolled back", zap.String("tempId", tempId), zap.Error(err))

		return nil, ierr.Wrap(ierr.ErrorCodeOptimisticRollback, err)
	}

	c.comments.Confirm(tempId, *created)

	return created, nil
}

func (c *CommentCoordinator) UpdateComment(ctx context.Context, commentId string, content string) (*model.Comment, error) {
	updated, err := c.api.Update(ctx, commentId, content)
	if err != nil {
		c.setErr(err)
		return nil, err
	}

	c.comments.Upsert(*updated)

	return updated, nil
}

func (c *CommentCoordinator) DeleteComment(ctx context.Context, commentId string) error {
	if err := c.api.Delete(ctx, commentId); err != nil {
		c.setErr(err)
		return err
	}

	c.comments.Remove(commentId)

	return nil
}

// Err is the message of the last failed operation, empty when there is none.
func (c *CommentCoordinator) Err() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

func (c *CommentCoordinator) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.err = ""
}

// Bind merges the pushed comment events of the coordinator's idea until
// unbind is called.
func (c *CommentCoordinator) Bind(client *channel.CommentsClient) (unbind func()) {
	removes := []func(){
		client.OnCommentAdded(func(event channel.CommentEvent) {
			if event.IdeaId == c.ideaId {
				c.comments.Upsert(event.Comment)
			}
		}),
		client.OnCommentUpdated(func(event channel.CommentEvent) {
			if event.IdeaId == c.ideaId {
				c.comments.Upsert(event.Comment)
			}
		}),
		client.OnCommentDeleted(func(event channel.CommentDeletedEvent) {
			if event.IdeaId == c.ideaId {
				c.comments.Remove(event.CommentId)
			}
		}),
	}

	return func() {
		for _, remove := range removes {
			remove()
		}
	}
}

func (c *CommentCoordinator) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.err = ierr.MessageOf(err)
}
