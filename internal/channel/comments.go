package channel

import (
	"context"
	"sync"

	"github.com/goevery/ideaboard/internal/fanout"
	"github.com/goevery/ideaboard/internal/hub"
	"github.com/goevery/ideaboard/internal/model"
	"go.uber.org/zap"
)

const CommentsHub = "comments"

// CommentsClient carries comment changes, viewer presence and typing
// indicators for the ideas it has joined.
type CommentsClient struct {
	*Client

	added         fanout.List[CommentEvent]
	updated       fanout.List[CommentEvent]
	deleted       fanout.List[CommentDeletedEvent]
	viewing       fanout.List[PresenceEvent]
	left          fanout.List[PresenceEvent]
	typing        fanout.List[TypingEvent]
	stoppedTyping fanout.List[TypingEvent]

	profileMu sync.RWMutex
	profile   model.User
}

func NewCommentsClient(logger *zap.Logger, manager *hub.Manager, prefix string) *CommentsClient {
	c := &CommentsClient{Client: newClient(logger, manager, prefix, CommentsHub)}

	bind(c.Client, EventCommentAdded, &c.added)
	bind(c.Client, EventCommentUpdated, &c.updated)
	bind(c.Client, EventCommentDeleted, &c.deleted)
	bind(c.Client, EventUserViewing, &c.viewing)
	bind(c.Client, EventUserLeft, &c.left)
	bind(c.Client, EventUserTyping, &c.typing)
	bind(c.Client, EventUserStoppedTyping, &c.stoppedTyping)

	return c
}

func (c *CommentsClient) OnCommentAdded(fn func(CommentEvent)) (remove func()) {
	return c.added.Add(fn)
}

func (c *CommentsClient) OnCommentUpdated(fn func(CommentEvent)) (remove func()) {
	return c.updated.Add(fn)
}

func (c *CommentsClient) OnCommentDeleted(fn func(CommentDeletedEvent)) (remove func()) {
	return c.deleted.Add(fn)
}

func (c *CommentsClient) OnUserViewing(fn func(PresenceEvent)) (remove func()) {
	return c.viewing.Add(fn)
}

func (c *CommentsClient) OnUserLeft(fn func(PresenceEvent)) (remove func()) {
	return c.left.Add(fn)
}

func (c *CommentsClient) OnUserTyping(fn func(TypingEvent)) (remove func()) {
	return c.typing.Add(fn)
}

func (c *CommentsClient) OnUserStoppedTyping(fn func(TypingEvent)) (remove func()) {
	return c.stoppedTyping.Add(fn)
}

// SetProfile sets the user announced in presence and typing events. Without
// it only the user id passed to Connect is sent.
func (c *CommentsClient) SetProfile(user model.User) {
	c.profileMu.Lock()
	defer c.profileMu.Unlock()

	c.profile = user
}

func (c *CommentsClient) Self() model.User {
	c.profileMu.RLock()
	profile := c.profile
	c.profileMu.RUnlock()

	if profile.Id == "" {
		profile.Id = c.UserId()
	}

	return profile
}

// JoinIdea subscribes to the idea group and announces the current user as a
// viewer.
func (c *CommentsClient) JoinIdea(ctx context.Context, ideaId string) error {
	group := IdeaGroup(ideaId)

	if err := c.join(ctx, group); err != nil {
		return err
	}

	return c.Announce(ctx, ideaId)
}

// Announce tells the other viewers of ideaId that the current user is there.
func (c *CommentsClient) Announce(ctx context.Context, ideaId string) error {
	return c.publish(ctx, IdeaGroup(ideaId), EventUserViewing, PresenceEvent{IdeaId: ideaId, User: c.Self()})
}

func (c *CommentsClient) LeaveIdea(ctx context.Context, ideaId string) error {
	group := IdeaGroup(ideaId)

	if err := c.publish(ctx, group, EventUserLeft, PresenceEvent{IdeaId: ideaId, User: c.Self()}); err != nil {
		c.logger.Warn("failed to announce leave", zap.String("ideaId", ideaId), zap.Error(err))
	}

	return c.leave(ctx, group)
}

func (c *CommentsClient) StartTyping(ctx context.Context, ideaId string) error {
	return c.publish(ctx, IdeaGroup(ideaId), EventUserTyping, TypingEvent{IdeaId: ideaId, User: c.Self()})
}

func (c *CommentsClient) StopTyping(ctx context.Context, ideaId string) error {
	return c.publish(ctx, IdeaGroup(ideaId), EventUserStoppedTyping, TypingEvent{IdeaId: ideaId, User: c.Self()})
}

// PublishComment fans a stored comment change out to the idea's viewers.
func (c *CommentsClient) PublishComment(ctx context.Context, kind EventKind, comment model.Comment) error {
	return c.publish(ctx, IdeaGroup(comment.IdeaId), kind, CommentEvent{IdeaId: comment.IdeaId, Comment: comment})
}

func (c *CommentsClient) PublishCommentDeleted(ctx context.Context, ideaId string, commentId string) error {
	return c.publish(ctx, IdeaGroup(ideaId), EventCommentDeleted, CommentDeletedEvent{IdeaId: ideaId, CommentId: commentId})
}
