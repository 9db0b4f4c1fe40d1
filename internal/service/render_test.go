package service

import (
	stderrors "errors"
	"strings"
	"testing"
	"unicode/utf8"

	"BulkSMS/pkg/errors"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		footer  string
		max     int
		body    string
		want    string
		wantErr error
	}{
		{"appends footer", "STOP to end", 0, "Sale today", "Sale today\nSTOP to end", nil},
		{"no footer", "", 20, "Hello", "Hello", nil},
		{"trims body", "STOP", 0, "  Hi  ", "Hi\nSTOP", nil},
		{"truncates body", "STOP", 10, "abcdefghijkl", "abcde\nSTOP", nil},
		{"counts runes", "STOP", 8, "你好世界再见", "你好世\nSTOP", nil},
		{"cuts at word boundary", "STOP", 14, "hello world again", "hello\nSTOP", nil},
		{"keeps word ending at limit", "STOP", 16, "hello world again", "hello world\nSTOP", nil},
		{"drops trailing space", "STOP", 17, "hello world  again", "hello world\nSTOP", nil},
		{"empty body", "STOP", 0, "   ", "", errors.MessageEmpty},
		{"footer too long", "Reply STOP to unsubscribe", 10, "Hi", "", errors.MessageTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewRenderer(tt.footer, tt.max).Render(tt.body)
			if tt.wantErr != nil {
				if !stderrors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderNeverExceedsCeiling(t *testing.T) {
	r := NewRenderer("Reply STOP to unsubscribe", 160)
	body := strings.Repeat("x", 500)

	got, err := r.Render(body)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if n := utf8.RuneCountInString(got); n != 160 {
		t.Errorf("length = %d, want 160", n)
	}
	if !strings.HasSuffix(got, "\nReply STOP to unsubscribe") {
		t.Errorf("footer missing: %q", got)
	}
}
