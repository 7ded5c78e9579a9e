// internal/capture/format.go
package capture

import "fmt"

// FormatBytes renders n with a B, KB or MB unit.
func FormatBytes(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.2f MB", float64(n)/(1024*1024))
	}
}

// TruncateURL shortens u to at most max runes, marking the cut with "...".
func TruncateURL(u string, max int) string {
	r := []rune(u)
	if len(r) <= max {
		return u
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
