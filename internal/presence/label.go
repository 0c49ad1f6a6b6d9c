package presence

import (
	"fmt"

	"github.com/goevery/ideaboard/internal/model"
)

const MaxAvatars = 4

// Summary is what a viewer badge shows: up to MaxAvatars avatars, an overflow
// counter such as "+2" and a caption.
type Summary struct {
	Text     string
	Avatars  []model.User
	Overflow string
}

func Label(users []model.User) Summary {
	var summary Summary

	switch n := len(users); {
	case n == 0:
		return summary
	case n == 1:
		summary.Text = users[0].Label() + " viewing"
	default:
		summary.Text = fmt.Sprintf("%d viewing", n)
	}

	if len(users) > MaxAvatars {
		summary.Avatars = users[:MaxAvatars]
		summary.Overflow = fmt.Sprintf("+%d", len(users)-MaxAvatars)
	} else {
		summary.Avatars = users
	}

	return summary
}

func TypingLabel(users []model.User) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return users[0].Label() + " is typing"
	case 2:
		return users[0].Label() + " and " + users[1].Label() + " are typing"
	default:
		return fmt.Sprintf("%d people are typing", len(users))
	}
}
