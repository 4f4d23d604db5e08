package session

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// KeyHeader carries the session key on streamed responses.
const KeyHeader = "X-Session-Key"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NewKey returns a fresh 32 character hex session key.
func NewKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SanitizeKey trims a caller supplied key and reports whether it is usable.
func SanitizeKey(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" || !keyPattern.MatchString(key) {
		return "", false
	}
	return key, true
}
