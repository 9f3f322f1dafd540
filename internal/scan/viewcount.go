package scan

import (
	"strconv"
	"strings"
)

// ParseViewCount parses a localized, possibly abbreviated view-count string
// ("1.2M views", "12,345 views", "987k") into an absolute count.
// Unparseable text yields 0.
func ParseViewCount(text string) int64 {
	raw := strings.ToLower(text)
	raw = strings.ReplaceAll(raw, ",", "")

	// Keep only digits, dots, and the magnitude suffixes.
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == 'k', r == 'm', r == 'b':
			b.WriteRune(r)
		}
	}
	raw = b.String()
	if raw == "" {
		return 0
	}

	// Numeric prefix: digits with at most one dot.
	end := 0
	dot := false
	for end < len(raw) {
		c := raw[end]
		if c >= '0' && c <= '9' {
			end++
			continue
		}
		if c == '.' && !dot {
			dot = true
			end++
			continue
		}
		break
	}
	if end == 0 || raw[:end] == "." {
		return 0
	}
	val, err := strconv.ParseFloat(raw[:end], 64)
	if err != nil {
		return 0
	}

	switch raw[len(raw)-1] {
	case 'k':
		val *= 1e3
	case 'm':
		val *= 1e6
	case 'b':
		val *= 1e9
	}
	return int64(val)
}
