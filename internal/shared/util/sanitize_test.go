package util

import (
	"strings"
	"testing"
)

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "resume.pdf", "resume.pdf"},
		{"slashes replaced", "a/b\\c.pdf", "a_b_c.pdf"},
		{"shell metacharacters replaced", "re$ume;(1).pdf", "re_ume__1_.pdf"},
		{"spaces kept", "my resume.pdf", "my resume.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SanitizeFileName(tc.in)
			if err != nil {
				t.Fatalf("sanitize %q: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("sanitize %q: got %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeFileNameRejectsTraversal(t *testing.T) {
	for _, in := range []string{"../../etc/passwd", "a..b.pdf", "", "   ", "///"} {
		if _, err := SanitizeFileName(in); err == nil {
			t.Fatalf("expected rejection for %q", in)
		}
	}
}

func TestSanitizeFileNameKeepsExtensionWhenTruncating(t *testing.T) {
	long := strings.Repeat("x", 300) + ".pdf"
	got, err := SanitizeFileName(long)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if len(got) > maxFileNameLen {
		t.Fatalf("expected length <= %d, got %d", maxFileNameLen, len(got))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Fatalf("expected extension preserved, got %q", got)
	}
}
