package logutil

import (
	"strings"
	"testing"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"line1\nline2", "line1 line2"},
		{"a\r\nb", "a  b"},
		{"tab\there", "tab here"},
		{"bell\x07", "bell"},
		{"del\x7f", "del"},
		{"ünïcode", "ünïcode"},
	}
	for _, tt := range tests {
		if got := SanitizeForLog(tt.in); got != tt.want {
			t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCommandLabel_Truncates(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := CommandLabel(long)
	if len(got) != maxCommandLabel+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("CommandLabel() = %q (len %d)", got, len(got))
	}
	if got := CommandLabel("cat\nfoo"); got != "cat foo" {
		t.Errorf("CommandLabel() = %q", got)
	}
}

func TestMaskID(t *testing.T) {
	if got := MaskID("0123456789abcdef"); got != "01234567…" {
		t.Errorf("MaskID() = %q", got)
	}
	if got := MaskID("short"); got != "****" {
		t.Errorf("MaskID(short) = %q", got)
	}
}
