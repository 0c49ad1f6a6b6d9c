package channel

import (
	"errors"
	"regexp"

	"github.com/goevery/ideaboard/internal/ierr"
)

var groupRegex = regexp.MustCompile(`^([\w-]+:?)*\w$`)

func ValidateGroup(group string) error {
	if !groupRegex.MatchString(group) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid group name: "+group))
	}

	return nil
}

// IdeaGroup receives comment and presence events for one idea.
func IdeaGroup(ideaId string) string {
	return "idea:" + ideaId
}

// UserGroup receives the notifications of one user.
func UserGroup(userId string) string {
	return "user:" + userId
}
