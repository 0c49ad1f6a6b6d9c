package channel

import (
	"context"

	"github.com/goevery/ideaboard/internal/fanout"
	"github.com/goevery/ideaboard/internal/hub"
	"go.uber.org/zap"
)

const NotificationsHub = "notifications"

// NotificationsClient receives the notifications of the connected user. It
// joins the user's group as part of Connect.
type NotificationsClient struct {
	*Client

	received fanout.List[NotificationEvent]
	read     fanout.List[NotificationReadEvent]
}

func NewNotificationsClient(logger *zap.Logger, manager *hub.Manager, prefix string) *NotificationsClient {
	c := &NotificationsClient{Client: newClient(logger, manager, prefix, NotificationsHub)}

	bind(c.Client, EventNotificationReceived, &c.received)
	bind(c.Client, EventNotificationRead, &c.read)

	c.joined = func(ctx context.Context, conn *hub.Connection) error {
		group := UserGroup(c.UserId())
		if err := ValidateGroup(group); err != nil {
			return err
		}

		return conn.Join(ctx, group)
	}

	return c
}

func (c *NotificationsClient) OnNotificationReceived(fn func(NotificationEvent)) (remove func()) {
	return c.received.Add(fn)
}

func (c *NotificationsClient) OnNotificationRead(fn func(NotificationReadEvent)) (remove func()) {
	return c.read.Add(fn)
}
