package downloader

import "strings"

const fallbackName = "download"

var reservedChars = `<>:"/\|?*`

// SanitizeFilename makes an artifact name safe for every supported
// filesystem: reserved characters become underscores, whitespace runs
// collapse to one space, and the result is trimmed. An empty result falls
// back to a fixed name.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastSpace := false
	for _, r := range name {
		switch {
		case strings.ContainsRune(reservedChars, r):
			b.WriteByte('_')
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
		case r < 0x20:
			// strip control characters entirely
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return fallbackName
	}
	return cleaned
}
