package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/goevery/ideaboard/internal/model"
	"github.com/goevery/ideaboard/internal/storage"
)

// API groups the REST resources.
type API struct {
	Ideas         *IdeasService
	Comments      *CommentsService
	Votes         *VotesService
	Notifications *NotificationsService
	Auth          *AuthService
}

func New(client *Client, session *storage.Session) *API {
	return &API{
		Ideas:         &IdeasService{client},
		Comments:      &CommentsService{client},
		Votes:         &VotesService{client},
		Notifications: &NotificationsService{client},
		Auth:          &AuthService{client, session},
	}
}

type IdeaQuery struct {
	Page     int
	PageSize int
	Search   string
	Category string
	Status   string
	SortBy   string
}

func (q IdeaQuery) values() url.Values {
	values := url.Values{}
	if q.Page > 0 {
		values.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		values.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.Search != "" {
		values.Set("search", q.Search)
	}
	if q.Category != "" {
		values.Set("category", q.Category)
	}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.SortBy != "" {
		values.Set("sortBy", q.SortBy)
	}

	return values
}

type IdeaInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type IdeasService struct {
	client *Client
}

func (s *IdeasService) List(ctx context.Context, query IdeaQuery) ([]model.Idea, error) {
	var ideas []model.Idea
	err := s.client.Get(ctx, "/ideas", query.values(), &ideas)

	return ideas, err
}

func (s *IdeasService) Get(ctx context.Context, id string) (*model.Idea, error) {
	var idea model.Idea
	if err := s.client.Get(ctx, "/ideas/"+url.PathEscape(id), nil, &idea); err != nil {
		return nil, err
	}

	return &idea, nil
}

func (s *IdeasService) Create(ctx context.Context, input IdeaInput) (*model.Idea, error) {
	var idea model.Idea
	if err := s.client.Post(ctx, "/ideas", input, &idea); err != nil {
		return nil, err
	}

	return &idea, nil
}

func (s *IdeasService) Update(ctx context.Context, id string, input IdeaInput) (*model.Idea, error) {
	var idea model.Idea
	if err := s.client.Put(ctx, "/ideas/"+url.PathEscape(id), input, &idea); err != nil {
		return nil, err
	}

	return &idea, nil
}

func (s *IdeasService) Delete(ctx context.Context, id string) error {
	return s.client.Delete(ctx, "/ideas/"+url.PathEscape(id), nil)
}

type CommentInput struct {
	Content  string `json:"content"`
	ParentId string `json:"parentId,omitempty"`
}

type CommentsService struct {
	client *Client
}

func (s *CommentsService) List(ctx context.Context, ideaId string) ([]model.Comment, error) {
	var comments []model.Comment
	err := s.client.Get(ctx, "/ideas/"+url.PathEscape(ideaId)+"/comments", nil, &comments)

	return comments, err
}

func (s *CommentsService) Create(ctx context.Context, ideaId string, input CommentInput) (*model.Comment, error) {
	var comment model.Comment
	if err := s.client.Post(ctx, "/ideas/"+url.PathEscape(ideaId)+"/comments", input, &comment); err != nil {
		return nil, err
	}

	return &comment, nil
}

func (s *CommentsService) Update(ctx context.Context, commentId string, content string) (*model.Comment, error) {
	var comment model.Comment
	if err := s.client.Put(ctx, "/comments/"+url.PathEscape(commentId), CommentInput{Content: content}, &comment); err != nil {
		return nil, err
	}

	return &comment, nil
}

func (s *CommentsService) Delete(ctx context.Context, commentId string) error {
	return s.client.Delete(ctx, "/comments/"+url.PathEscape(commentId), nil)
}

func (s *CommentsService) Count(ctx context.Context, ideaId string) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	err := s.client.Get(ctx, "/ideas/"+url.PathEscape(ideaId)+"/comments/count", nil, &result)

	return result.Count, err
}

type VotesService struct {
	client *Client
}

// Get returns the current user's vote on an idea, or nil when there is none.
func (s *VotesService) Get(ctx context.Context, ideaId string) (*model.Vote, error) {
	var vote model.Vote

	err := s.client.Get(ctx, "/votes/ideas/"+url.PathEscape(ideaId)+"/user", nil, &vote)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &vote, nil
}

func (s *VotesService) Cast(ctx context.Context, ideaId string, voteType model.VoteType) (*model.Vote, error) {
	body := struct {
		IdeaId string         `json:"ideaId"`
		Type   model.VoteType `json:"type"`
	}{ideaId, voteType}

	var vote model.Vote
	if err := s.client.Post(ctx, "/votes", body, &vote); err != nil {
		return nil, err
	}

	return &vote, nil
}

func (s *VotesService) Remove(ctx context.Context, ideaId string) error {
	return s.client.Delete(ctx, "/votes/ideas/"+url.PathEscape(ideaId), nil)
}

func (s *VotesService) Summary(ctx context.Context, ideaId string) (*model.VoteSummary, error) {
	var summary model.VoteSummary
	if err := s.client.Get(ctx, "/votes/ideas/"+url.PathEscape(ideaId)+"/summary", nil, &summary); err != nil {
		return nil, err
	}

	return &summary, nil
}

type NotificationsService struct {
	client *Client
}

func (s *NotificationsService) List(ctx context.Context, unreadOnly bool) ([]model.Notification, error) {
	query := url.Values{}
	if unreadOnly {
		query.Set("unreadOnly", "true")
	}

	var notifications []model.Notification
	err := s.client.Get(ctx, "/notifications", query, &notifications)

	return notifications, err
}

func (s *NotificationsService) UnreadCount(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	err := s.client.Get(ctx, "/notifications/unread-count", nil, &result)

	return result.Count, err
}

func (s *NotificationsService) MarkRead(ctx context.Context, id string) error {
	return s.client.Put(ctx, "/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

func (s *NotificationsService) MarkAllRead(ctx context.Context) error {
	return s.client.Put(ctx, "/notifications/read-all", nil, nil)
}

func (s *NotificationsService) Delete(ctx context.Context, id string) error {
	return s.client.Delete(ctx, "/notifications/"+url.PathEscape(id), nil)
}
