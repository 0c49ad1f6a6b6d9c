package channel

import "github.com/goevery/ideaboard/internal/model"

// EventKind names a server pushed event. Each kind has exactly one payload type.
type EventKind string

const (
	EventCommentAdded      EventKind = "CommentAdded"      // CommentEvent
	EventCommentUpdated    EventKind = "CommentUpdated"    // CommentEvent
	EventCommentDeleted    EventKind = "CommentDeleted"    // CommentDeletedEvent
	EventUserViewing       EventKind = "UserViewing"       // PresenceEvent
	EventUserLeft          EventKind = "UserLeft"          // PresenceEvent
	EventUserTyping        EventKind = "UserTyping"        // TypingEvent
	EventUserStoppedTyping EventKind = "UserStoppedTyping" // TypingEvent

	EventNotificationReceived EventKind = "NotificationReceived" // NotificationEvent
	EventNotificationRead     EventKind = "NotificationRead"     // NotificationReadEvent
)

type CommentEvent struct {
	IdeaId  string        `json:"ideaId"`
	Comment model.Comment `json:"comment"`
}

type CommentDeletedEvent struct {
	IdeaId    string `json:"ideaId"`
	CommentId string `json:"commentId"`
}

type PresenceEvent struct {
	IdeaId string     `json:"ideaId"`
	User   model.User `json:"user"`
}

type TypingEvent struct {
	IdeaId string     `json:"ideaId"`
	User   model.User `json:"user"`
}

type NotificationEvent struct {
	Notification model.Notification `json:"notification"`
}

type NotificationReadEvent struct {
	NotificationId string `json:"notificationId,omitempty"`
	UnreadCount    int    `json:"unreadCount"`
}
