package strx

import "strings"

// Coalesce returns s if non-empty, otherwise d.
func Coalesce(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// Path joins broker topic levels with "/", dropping empty levels and
// stray separators at either end of each.
func Path(levels ...string) string {
	var sb strings.Builder
	for _, l := range levels {
		l = strings.Trim(l, "/")
		if l == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('/')
		}
		sb.WriteString(l)
	}
	return sb.String()
}
