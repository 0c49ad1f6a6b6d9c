package api

import (
	"context"

	"github.com/goevery/ideaboard/internal/model"
	"github.com/goevery/ideaboard/internal/storage"
	"go.uber.org/zap"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

type ProfileInput struct {
	DisplayName string `json:"displayName,omitempty"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
}

type AuthResult struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// AuthService keeps the session in step with the server: a successful login
// or registration stores token and user, logout forgets them.
type AuthService struct {
	client  *Client
	session *storage.Session
}

func (s *AuthService) Login(ctx context.Context, credentials Credentials) (*AuthResult, error) {
	return s.authenticate(ctx, "/auth/login", credentials)
}

func (s *AuthService) Register(ctx context.Context, registration Registration) (*AuthResult, error) {
	return s.authenticate(ctx, "/auth/register", registration)
}

// Refresh exchanges token for a fresh one. It has the shape of
// auth.Refresher and leaves storing the result to the caller.
func (s *AuthService) Refresh(ctx context.Context, token string) (string, error) {
	var result AuthResult
	if err := s.client.Post(ctx, "/auth/refresh", struct {
		Token string `json:"token"`
	}{token}, &result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// Logout clears the local session even when the server call fails.
func (s *AuthService) Logout(ctx context.Context) error {
	err := s.client.Post(ctx, "/auth/logout", nil, nil)
	if err != nil {
		s.client.logger.Warn("logout request failed", zap.Error(err))
	}

	return s.session.Logout(ctx)
}

func (s *AuthService) Profile(ctx context.Context) (*model.User, error) {
	var user model.User
	if err := s.client.Get(ctx, "/auth/profile", nil, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *AuthService) UpdateProfile(ctx context.Context, input ProfileInput) (*model.User, error) {
	var user model.User
	if err := s.client.Put(ctx, "/auth/profile", input, &user); err != nil {
		return nil, err
	}

	if err := s.session.SetUser(ctx, user); err != nil {
		return nil, err
	}

	return &user, nil
}

func (s *AuthService) authenticate(ctx context.Context, path string, body any) (*AuthResult, error) {
	var result AuthResult
	if err := s.client.Post(ctx, path, body, &result); err != nil {
		return nil, err
	}

	if err := s.session.SetToken(ctx, result.Token); err != nil {
		return nil, err
	}

	if err := s.session.SetUser(ctx, result.User); err != nil {
		return nil, err
	}

	return &result, nil
}
