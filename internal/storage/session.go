package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/model"
	"go.uber.org/zap"
)

const DefaultItemsPerPage = 10

// Session is the typed view of the persisted client state.
type Session struct {
	logger *zap.Logger
	store  Store
}

func NewSession(logger *zap.Logger, store Store) *Session {
	return &Session{logger: logger, store: store}
}

func (s *Session) Token(ctx context.Context) (string, error) {
	token, _, err := s.store.Get(ctx, KeyToken)

	return token, err
}

// SetToken stores token. An empty token removes the stored one.
func (s *Session) SetToken(ctx context.Context, token string) error {
	if token == "" {
		return s.ClearToken(ctx)
	}

	return s.store.Set(ctx, KeyToken, token)
}

func (s *Session) ClearToken(ctx context.Context) error {
	return s.store.Delete(ctx, KeyToken)
}

// User returns nil when no user is stored.
func (s *Session) User(ctx context.Context) (*model.User, error) {
	var user model.User

	found, err := s.getJSON(ctx, KeyUser, &user)
	if err != nil || !found {
		return nil, err
	}

	return &user, nil
}

func (s *Session) SetUser(ctx context.Context, user model.User) error {
	return s.setJSON(ctx, KeyUser, user)
}

func (s *Session) ThemeMode(ctx context.Context) (model.ThemeMode, error) {
	value, found, err := s.store.Get(ctx, KeyThemeMode)
	if err != nil {
		return "", err
	}

	switch mode := model.ThemeMode(value); {
	case !found:
		return model.ThemeSystem, nil
	case mode == model.ThemeLight, mode == model.ThemeDark, mode == model.ThemeSystem:
		return mode, nil
	default:
		s.logger.Warn("ignoring unknown theme mode", zap.String("value", value))
		return model.ThemeSystem, nil
	}
}

func (s *Session) SetThemeMode(ctx context.Context, mode model.ThemeMode) error {
	switch mode {
	case model.ThemeLight, model.ThemeDark, model.ThemeSystem:
		return s.store.Set(ctx, KeyThemeMode, string(mode))
	default:
		return ierr.Newf(ierr.ErrorCodeValidation, "unknown theme mode %q", mode)
	}
}

func (s *Session) AppSettings(ctx context.Context) (model.AppSettings, error) {
	settings := model.AppSettings{NotificationsEnabled: true}

	if _, err := s.getJSON(ctx, KeyAppSettings, &settings); err != nil {
		return model.AppSettings{}, err
	}

	return settings, nil
}

func (s *Session) SetAppSettings(ctx context.Context, settings model.AppSettings) error {
	return s.setJSON(ctx, KeyAppSettings, settings)
}

func (s *Session) ItemsPerPage(ctx context.Context) (int, error) {
	value, found, err := s.store.Get(ctx, KeyItemsPerPage)
	if err != nil || !found {
		return DefaultItemsPerPage, err
	}

	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		s.logger.Warn("ignoring invalid items per page", zap.String("value", value))
		return DefaultItemsPerPage, nil
	}

	return n, nil
}

func (s *Session) SetItemsPerPage(ctx context.Context, n int) error {
	if n <= 0 {
		return ierr.New(ierr.ErrorCodeValidation, errors.New("items per page must be positive"))
	}

	return s.store.Set(ctx, KeyItemsPerPage, strconv.Itoa(n))
}

// Logout forgets the signed in user. Preferences survive.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, KeyToken); err != nil {
		return err
	}

	return s.store.Delete(ctx, KeyUser)
}

// Reset forgets everything.
func (s *Session) Reset(ctx context.Context) error {
	return s.store.Clear(ctx)
}

// getJSON leaves v untouched when the key is absent or holds malformed JSON.
func (s *Session) getJSON(ctx context.Context, key string, v any) (bool, error) {
	value, found, err := s.store.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}

	if err := json.Unmarshal([]byte(value), v); err != nil {
		s.logger.Warn("ignoring malformed stored value", zap.String("key", key), zap.Error(err))
		return false, nil
	}

	return true, nil
}

func (s *Session) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	return s.store.Set(ctx, key, string(raw))
}
