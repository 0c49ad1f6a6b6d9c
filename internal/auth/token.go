package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// ParseUnverified reads the claims of a token without checking its signature.
// The client only uses them to decide when to refresh.
func ParseUnverified(tokenString string) (*Claims, error) {
	claims := Claims{}

	_, _, err := jwt.NewParser().ParseUnverified(tokenString, &claims)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	return &claims, nil
}

type TokenStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
}

type Refresher func(ctx context.Context, token string) (string, error)

// TokenSource hands out the stored token, refreshing it first when it is
// about to expire. Its Token method is meant to be used as a hub TokenFunc.
type TokenSource struct {
	logger  *zap.Logger
	store   TokenStore
	refresh Refresher
	leeway  time.Duration
	now     func() time.Time

	mu sync.Mutex
}

func NewTokenSource(logger *zap.Logger, store TokenStore, refresh Refresher, leeway time.Duration) *TokenSource {
	return &TokenSource{
		logger:  logger,
		store:   store,
		refresh: refresh,
		leeway:  leeway,
		now:     time.Now,
	}
}

func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, err := s.store.Token(ctx)
	if err != nil {
		return "", err
	}

	if token == "" {
		return "", ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("no token stored"))
	}

	if s.refresh == nil {
		return token, nil
	}

	claims, err := ParseUnverified(token)
	if err != nil {
		// opaque tokens are passed through as is
		return token, nil
	}

	if claims.ExpiresAt == nil || claims.ExpiresAt.Time.After(s.now().Add(s.leeway)) {
		return token, nil
	}

	s.logger.Info("refreshing token", zap.Time("expiresAt", claims.ExpiresAt.Time))

	fresh, err := s.refresh(ctx, token)
	if err != nil {
		return "", err
	}

	if err := s.store.SetToken(ctx, fresh); err != nil {
		return "", err
	}

	return fresh, nil
}
