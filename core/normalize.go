package core

import "strings"

// normalizeOutput normalizes CRLF/CR to LF, trims leading/trailing
// whitespace, then strips trailing empty lines, so comparisons against
// expected output ignore platform line-ending and trailing-newline
// differences. It is idempotent:
// normalizeOutput(normalizeOutput(x)) == normalizeOutput(x).
func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSpace(s)

	lines := strings.Split(s, "\n")
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}
