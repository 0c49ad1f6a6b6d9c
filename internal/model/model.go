package model

import "time"

type User struct {
	Id          string `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarUrl   string `json:"avatarUrl,omitempty"`
	Role        string `json:"role,omitempty"`
}

// Label is the name shown next to avatars.
func (u User) Label() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	default:
		return u.Id
	}
}

type Idea struct {
	Id           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Category     string    `json:"category,omitempty"`
	Status       string    `json:"status,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	AuthorId     string    `json:"authorId"`
	Author       *User     `json:"author,omitempty"`
	VoteCount    int       `json:"voteCount"`
	CommentCount int       `json:"commentCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Comment struct {
	Id        string    `json:"id"`
	IdeaId    string    `json:"ideaId"`
	ParentId  string    `json:"parentId,omitempty"`
	AuthorId  string    `json:"authorId"`
	Author    *User     `json:"author,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type VoteType string

const (
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

type Vote struct {
	Id        string    `json:"id"`
	IdeaId    string    `json:"ideaId"`
	UserId    string    `json:"userId"`
	Type      VoteType  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type VoteSummary struct {
	IdeaId    string `json:"ideaId"`
	Upvotes   int    `json:"upvotes"`
	Downvotes int    `json:"downvotes"`
	Score     int    `json:"score"`
}

type Notification struct {
	Id        string    `json:"id"`
	UserId    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IdeaId    string    `json:"ideaId,omitempty"`
	Read      bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

type ThemeMode string

const (
	ThemeLight  ThemeMode = "light"
	ThemeDark   ThemeMode = "dark"
	ThemeSystem ThemeMode = "system"
)

type AppSettings struct {
	Language             string `json:"language,omitempty"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
	EmailDigest          bool   `json:"emailDigest"`
	CompactMode          bool   `json:"compactMode"`
}
