package presence

import (
	"context"
	"sync"
	"time"

	"github.com/goevery/ideaboard/internal/channel"
	"github.com/goevery/ideaboard/internal/clock"
	"go.uber.org/zap"
)

// Room derives the viewers and typists of one idea from the comments hub.
// The current user is never a member of either set.
type Room struct {
	logger *zap.Logger
	client *channel.CommentsClient
	ideaId string

	Viewers *Set
	Typing  *TypingSet

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	detach []func()
}

func NewRoom(logger *zap.Logger, client *channel.CommentsClient, ideaId string, c clock.Clock, typingExpiry time.Duration) *Room {
	return &Room{
		logger:  logger.With(zap.String("ideaId", ideaId)),
		client:  client,
		ideaId:  ideaId,
		Viewers: NewSet(),
		Typing:  NewTypingSet(c, typingExpiry),
	}
}

// Open subscribes to the idea's presence events and announces the current
// user. The client must be connected. A closed room can be opened again.
func (r *Room) Open(ctx context.Context) error {
	r.Typing.Reopen()

	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.detach = []func(){
		r.client.OnUserViewing(r.handleViewing),
		r.client.OnUserLeft(r.handleLeft),
		r.client.OnUserTyping(r.handleTyping),
		r.client.OnUserStoppedTyping(r.handleStoppedTyping),
		r.client.OnCommentAdded(r.handleCommentAdded),
	}
	r.mu.Unlock()

	if err := r.client.JoinIdea(ctx, r.ideaId); err != nil {
		r.release()
		return err
	}

	return nil
}

// Close leaves the idea group and empties both sets. Pending typing expiries
// are cancelled.
func (r *Room) Close(ctx context.Context) error {
	r.release()

	r.Typing.Close()
	r.Viewers.Clear()

	return r.client.LeaveIdea(ctx, r.ideaId)
}

func (r *Room) Summary() Summary {
	return Label(r.Viewers.Members())
}

func (r *Room) release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, remove := range r.detach {
		remove()
	}

	r.detach = nil

	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Room) isSelf(userId string) bool {
	return userId == r.client.Self().Id
}

func (r *Room) handleViewing(event channel.PresenceEvent) {
	if event.IdeaId != r.ideaId || r.isSelf(event.User.Id) {
		return
	}

	if !r.Viewers.Add(event.User) {
		return
	}

	// newcomers only learn about existing viewers from a fresh announcement.
	// Handlers run on the read goroutine, which must stay free for the reply.
	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()

	go func() {
		if err := r.client.Announce(ctx, r.ideaId); err != nil && ctx.Err() == nil {
			r.logger.Warn("failed to announce presence", zap.Error(err))
		}
	}()
}

func (r *Room) handleLeft(event channel.PresenceEvent) {
	if event.IdeaId != r.ideaId {
		return
	}

	r.Viewers.Remove(event.User.Id)
	r.Typing.Remove(event.User.Id)
}

func (r *Room) handleTyping(event channel.TypingEvent) {
	if event.IdeaId != r.ideaId || r.isSelf(event.User.Id) {
		return
	}

	r.Typing.Touch(event.User)
}

func (r *Room) handleStoppedTyping(event channel.TypingEvent) {
	if event.IdeaId != r.ideaId {
		return
	}

	r.Typing.Remove(event.User.Id)
}

func (r *Room) handleCommentAdded(event channel.CommentEvent) {
	if event.IdeaId != r.ideaId {
		return
	}

	r.Typing.Remove(event.Comment.AuthorId)
}
