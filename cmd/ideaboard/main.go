package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/goevery/ideaboard/internal/api"
	"github.com/goevery/ideaboard/internal/auth"
	"github.com/goevery/ideaboard/internal/channel"
	"github.com/goevery/ideaboard/internal/clock"
	"github.com/goevery/ideaboard/internal/connstate"
	"github.com/goevery/ideaboard/internal/hub"
	"github.com/goevery/ideaboard/internal/ierr"
	"github.com/goevery/ideaboard/internal/model"
	"github.com/goevery/ideaboard/internal/optimistic"
	"github.com/goevery/ideaboard/internal/presence"
	"github.com/goevery/ideaboard/internal/storage"
	"github.com/goevery/ideaboard/internal/storage/mongodb"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings
	out      io.Writer

	mongoClient   *mongo.Client
	session       *storage.Session
	api           *api.API
	tokenSource   *auth.TokenSource
	manager       *hub.Manager
	comments      *channel.CommentsClient
	notifications *channel.NotificationsClient
	probe         *connstate.Probe
	tracker       *connstate.Tracker
	attached      *hub.Connection

	cancel context.CancelCauseFunc
}

var errSessionExpired = errors.New("session expired, sign in again")

func NewApp(ctx context.Context, logger *zap.Logger, settings Settings) (*App, error) {
	a := &App{
		logger:   logger,
		settings: settings,
		out:      os.Stdout,
	}

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, err
	}

	a.session = storage.NewSession(logger, store)

	client, err := api.NewClient(logger, settings.APIBaseURL, a.session, api.NavigatorFunc(a.navigate))
	if err != nil {
		return nil, err
	}

	a.api = api.New(client, a.session)
	a.tokenSource = auth.NewTokenSource(logger, a.session, a.api.Auth.Refresh, settings.TokenRefreshLeeway)

	a.manager, err = hub.NewManager(logger, settings.hubBaseURL(), hub.DefaultSettings())
	if err != nil {
		return nil, err
	}

	a.comments = channel.NewCommentsClient(logger, a.manager, settings.HubPrefix)
	a.comments.SetTokenSource(a.tokenSource.Token)
	a.notifications = channel.NewNotificationsClient(logger, a.manager, settings.HubPrefix)
	a.notifications.SetTokenSource(a.tokenSource.Token)

	a.probe = connstate.NewProbe(logger, nil, settings.APIBaseURL, settings.ProbeInterval)
	a.tracker = connstate.NewTracker(logger, a.probe, connstate.Settings{SettleDelay: settings.SettleDelay}, a.reconnect)

	return a, nil
}

func (a *App) buildStore(ctx context.Context) (storage.Store, error) {
	if a.settings.MongoURI == "" {
		return storage.NewMemoryStore(a.logger, a.settings.StorageFile)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(a.settings.MongoURI))
	if err != nil {
		return nil, err
	}

	a.mongoClient = client

	engine := mongodb.NewEngine(client, a.settings.DeviceId)
	if err := engine.Setup(ctx); err != nil {
		return nil, err
	}

	return engine, nil
}

func (a *App) run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancelCause(ctx)
	defer a.cancel(nil)

	go a.probe.Run(ctx)
	defer a.tracker.Close()
	defer a.manager.DisconnectAll()

	user, err := a.signIn(ctx)
	if err != nil {
		return err
	}

	a.comments.SetProfile(*user)

	if err := a.connect(ctx, user.Id); err != nil {
		return err
	}

	a.tracker.Subscribe(func(state connstate.State) {
		fmt.Fprintf(a.out, "* connection: %s connected=%t attempts=%d %s\n",
			state.ConnectionType, state.IsConnected, state.ReconnectAttempts, state.Error)
	})

	a.notifications.OnNotificationReceived(func(event channel.NotificationEvent) {
		fmt.Fprintf(a.out, "* notification: %s\n", event.Notification.Title)
	})

	room := presence.NewRoom(a.logger, a.comments, a.settings.IdeaId, clock.Real{}, a.settings.TypingExpiry)
	room.Viewers.OnChange(func(users []model.User) {
		fmt.Fprintf(a.out, "* %s\n", presence.Label(users).Text)
	})
	room.Typing.OnChange(func(users []model.User) {
		if label := presence.TypingLabel(users); label != "" {
			fmt.Fprintf(a.out, "* %s\n", label)
		}
	})

	if err := room.Open(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := room.Close(closeCtx); err != nil {
			a.logger.Warn("failed to leave idea", zap.Error(err))
		}
	}()

	coordinator := optimistic.NewCommentCoordinator(a.logger, a.api.Comments, a.settings.IdeaId, *user)
	defer coordinator.Bind(a.comments)()

	coordinator.Comments().OnChange(func(comments []model.Comment) {
		a.printComments(comments)
	})

	if err := coordinator.Load(ctx); err != nil {
		return err
	}

	lines := make(chan string)
	go a.readLines(ctx, os.Stdin, lines)

	for {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); !errors.Is(cause, context.Canceled) {
				return cause
			}

			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			a.handleLine(ctx, coordinator, line)
		}
	}
}

func (a *App) signIn(ctx context.Context) (*model.User, error) {
	if a.settings.Token != "" {
		if err := a.session.SetToken(ctx, a.settings.Token); err != nil {
			return nil, err
		}
	}

	token, err := a.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	if token == "" {
		if a.settings.Email == "" {
			return nil, ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("set TOKEN or EMAIL and PASSWORD"))
		}

		result, err := a.api.Auth.Login(ctx, api.Credentials{Email: a.settings.Email, Password: a.settings.Password})
		if err != nil {
			return nil, err
		}

		return &result.User, nil
	}

	user, err := a.session.User(ctx)
	if err != nil {
		return nil, err
	}

	if user != nil {
		return user, nil
	}

	user, err = a.api.Auth.Profile(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.session.SetUser(ctx, *user); err != nil {
		return nil, err
	}

	return user, nil
}

func (a *App) connect(ctx context.Context, userId string) error {
	if err := a.comments.Connect(ctx, userId, ""); err != nil {
		return err
	}

	if err := a.notifications.Connect(ctx, userId, ""); err != nil {
		a.logger.Warn("notifications unavailable", zap.Error(err))
	}

	if conn := a.manager.GetConnection(channel.CommentsHub); conn != nil && conn != a.attached {
		a.tracker.Attach(conn)
		a.attached = conn
	}

	return nil
}

func (a *App) reconnect(ctx context.Context) error {
	user, err := a.session.User(ctx)
	if err != nil {
		return err
	}

	if user == nil {
		return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("no user signed in"))
	}

	if err := a.connect(ctx, user.Id); err != nil {
		return err
	}

	return a.comments.JoinIdea(ctx, a.settings.IdeaId)
}

func (a *App) handleLine(ctx context.Context, coordinator *optimistic.CommentCoordinator, line string) {
	command, rest, _ := strings.Cut(strings.TrimSpace(line), " ")

	var err error

	switch command {
	case "":
		return
	case "/typing":
		err = a.comments.StartTyping(ctx, a.settings.IdeaId)
	case "/reply":
		parentId, content, _ := strings.Cut(rest, " ")
		_, err = coordinator.AddComment(ctx, content, parentId)
	case "/edit":
		id, content, _ := strings.Cut(rest, " ")
		_, err = coordinator.UpdateComment(ctx, id, content)
	case "/delete":
		err = coordinator.DeleteComment(ctx, strings.TrimSpace(rest))
	case "/reconnect":
		err = a.tracker.Reconnect(ctx)
	case "/disconnect":
		a.comments.Disconnect()
		a.tracker.Disconnect()
	case "/quit":
		a.cancel(nil)
	default:
		if err := a.comments.StopTyping(ctx, a.settings.IdeaId); err != nil {
			a.logger.Debug("failed to stop typing", zap.Error(err))
		}

		_, err = coordinator.AddComment(ctx, line, "")
	}

	if err != nil {
		fmt.Fprintf(a.out, "! %s\n", ierr.MessageOf(err))
		coordinator.ClearError()
		a.tracker.ClearError()
	}
}

func (a *App) readLines(ctx context.Context, r io.Reader, lines chan<- string) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) printComments(comments []model.Comment) {
	fmt.Fprintln(a.out, "---")

	for _, comment := range comments {
		marker := " "
		if optimistic.IsTemporary(comment.Id) {
			marker = "~"
		}

		author := comment.AuthorId
		if comment.Author != nil {
			author = comment.Author.Label()
		}

		fmt.Fprintf(a.out, "%s [%s] %s: %s\n", marker, comment.Id, author, comment.Content)
	}
}

func (a *App) navigate(path string) {
	a.logger.Info("navigation requested", zap.String("path", path))

	if path == api.LoginPath && a.cancel != nil {
		a.cancel(errSessionExpired)
	}
}

func (a *App) shutdown(ctx context.Context) {
	if a.mongoClient == nil {
		return
	}

	if err := a.mongoClient.Disconnect(ctx); err != nil {
		a.logger.Warn("failed to disconnect from mongodb", zap.Error(err))
	}
}

func main() {
	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse settings from environment: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildZapLogger(settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	app, err := NewApp(ctx, logger, settings)
	if err != nil {
		logger.Fatal("failed to setup", zap.Error(err))
	}

	err = app.run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	app.shutdown(shutdownCtx)

	if err != nil {
		logger.Error("ideaboard stopped", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("ideaboard stopped")
}
