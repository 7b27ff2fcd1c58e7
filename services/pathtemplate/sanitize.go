package pathtemplate

import (
	"strings"
)

var replyPrefixes = []string{"re:", "fwd:", "fw:"}

// Sanitize turns a free-form header value into a path-safe token:
// lowercase, reply/forward prefixes stripped, every run outside
// [a-z0-9] collapsed to one underscore, edges trimmed. maxLen 0 means
// no truncation. The result is never empty and the function is
// idempotent.
func Sanitize(s string, maxLen int) string {
	s = strings.ToLower(strings.TrimSpace(s))

	for {
		stripped := false
		s = strings.TrimLeft(s, " \t")
		for _, p := range replyPrefixes {
			if strings.HasPrefix(s, p) {
				s = s[len(p):]
				stripped = true
				break
			}
		}
		if !stripped {
			break
		}
	}

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	out := strings.Trim(b.String(), "_")
	if maxLen > 0 && len(out) > maxLen {
		out = strings.TrimRight(out[:maxLen], "_")
	}
	if out == "" {
		return "_"
	}
	return out
}
