package logutil

import "strings"

// maxCommandLabel is the longest command rendered in a log line.
const maxCommandLabel = 80

// SanitizeForLog removes newlines and control characters from user-provided
// strings so they cannot forge extra log entries.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 127:
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CommandLabel sanitizes a remote command and truncates it for logging.
func CommandLabel(cmd string) string {
	cmd = SanitizeForLog(cmd)
	if len(cmd) > maxCommandLabel {
		return cmd[:maxCommandLabel] + "..."
	}
	return cmd
}

// MaskID shortens a session id to its first eight characters. Full ids are
// bearer tokens and stay out of logs.
func MaskID(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:8] + "…"
}
