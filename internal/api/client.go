package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/storage"
	"go.uber.org/zap"
)

const LoginPath = "/login"

// Navigator moves the user interface to another location.
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) {
	f(path)
}

// envelopeKeys are the only top level keys of a wrapped response.
var envelopeKeys = map[string]struct{}{
	"data":       {},
	"success":    {},
	"message":    {},
	"meta":       {},
	"pagination": {},
}

// Client talks JSON to the REST API. Failed answers come back as
// ierr.ErrorCodeRest errors and connectivity failures as
// ierr.ErrorCodeNetwork. A 401 also clears the stored token and navigates
// to the login page.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    *url.URL
	session    *storage.Session
	navigator  Navigator
}

func NewClient(logger *zap.Logger, baseURL string, session *storage.Session, navigator Navigator) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ierr.Newf(ierr.ErrorCodeInvalidArgument, "unsupported api url scheme %q", u.Scheme)
	}

	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    u,
		session:    session,
		navigator:  navigator,
	}, nil
}

func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body any, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Do sends one request. body and out may be nil.
func (c *Client) Do(ctx context.Context, method string, path string, query url.Values, body any, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	logger := c.logger.With(zap.String("method", method), zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("api request failed", zap.Error(err))

		return ierr.New(ierr.ErrorCodeNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ierr.New(ierr.ErrorCodeNetwork, err)
	}

	logger.Debug("api response", zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.unauthorized(ctx)
		}

		return normalizeError(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := json.Unmarshal(unwrap(raw), out); err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method string, path string, query url.Values, body any) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
		}

		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidArgument, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return req, nil
}

func (c *Client) unauthorized(ctx context.Context) {
	c.logger.Info("session rejected, redirecting to login")

	if err := c.session.ClearToken(ctx); err != nil {
		c.logger.Error("failed to clear token", zap.Error(err))
	}

	if c.navigator != nil {
		c.navigator.Navigate(LoginPath)
	}
}

// unwrap returns the payload of a {"data": ...} envelope, or raw itself.
func unwrap(raw []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}

	data, ok := fields["data"]
	if !ok {
		return raw
	}

	for key := range fields {
		if _, ok := envelopeKeys[key]; !ok {
			return raw
		}
	}

	return data
}

func normalizeError(status int, raw []byte) error {
	var body struct {
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Title   string          `json:"title"`
		Errors  json.RawMessage `json:"errors"`
		Details json.RawMessage `json:"details"`
	}

	if err := json.Unmarshal(raw, &body); err != nil {
		message := strings.TrimSpace(string(raw))
		if !json.Valid(raw) && len(message) < 200 {
			return ierr.NewRest(status, message, nil)
		}

		return ierr.NewRest(status, "", nil)
	}

	message := body.Message
	if message == "" {
		message = body.Error
	}
	if message == "" {
		message = body.Title
	}

	details := body.Details
	if len(details) == 0 {
		details = body.Errors
	}

	return ierr.NewRest(status, message, details)
}

// IsNotFound reports a 404 answer.
func IsNotFound(err error) bool {
	var e ierr.Error

	return errors.As(err, &e) && e.Code == ierr.ErrorCodeRest && e.Status == http.StatusNotFound
}
