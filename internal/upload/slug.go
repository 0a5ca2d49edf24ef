package upload

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Slugify maps a filename to a filesystem- and URL-safe identifier:
// lowercase, runs of anything non-alphanumeric collapsed to a single dash.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true

	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) && r < 128 || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}

	return strings.TrimRight(b.String(), "-")
}

// NewSlug derives the unique per-upload slug. The millisecond timestamp
// suffix keeps repeated uploads of the same filename collision-free.
func NewSlug(fileName string, now time.Time) string {
	return fmt.Sprintf("%s-%d", Slugify(fileName), now.UnixMilli())
}
