package search

import (
	"strings"

	"github.com/stritefax/heelixchat/pkg/utils"
)

// Snippet collapses whitespace in content and truncates it to maxLen characters.
func Snippet(content string, maxLen int) string {
	return utils.Truncate(strings.Join(strings.Fields(content), " "), maxLen)
}
