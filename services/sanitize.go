package services

import (
	"regexp"
	"strings"
)

var nonWordChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// SanitizeTitle maps an article title to the filesystem-safe stem the
// extraction tool uses for the chapter's PDF file name: whitespace runs
// become single underscores, everything outside [A-Za-z0-9_] is dropped.
func SanitizeTitle(title string) string {
	stem := strings.Join(strings.Fields(title), "_")
	return nonWordChars.ReplaceAllString(stem, "")
}
