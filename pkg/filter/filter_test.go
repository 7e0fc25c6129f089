package filter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/parleyhq/parley/pkg/policy"
)

type stubModerator struct {
	flagged bool
	err     error
}

func (m *stubModerator) Flagged(ctx context.Context, text string) (bool, error) {
	return m.flagged, m.err
}

func TestRedact_CaseInsensitive(t *testing.T) {
	t.Parallel()

	got := Redact("Foo and foo", []string{"foo"})
	want := RedactionMarker + " and " + RedactionMarker
	if got != want {
		t.Fatalf("Redact: got %q, want %q", got, want)
	}
}

func TestRedact_UnrelatedTextUntouched(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		keywords []string
		want     string
	}{
		{"no keywords", "hello world", nil, "hello world"},
		{"no match", "hello world", []string{"foo"}, "hello world"},
		{"substring match", "a foobar b", []string{"foo"}, "a " + RedactionMarker + "bar b"},
		{"sequential keywords", "foo bar", []string{"foo", "bar"}, RedactionMarker + " " + RedactionMarker},
		{"empty keyword ignored", "text", []string{""}, "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Redact(tt.input, tt.keywords); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRedact_MultibyteFoldSafe(t *testing.T) {
	t.Parallel()

	// Case folding can change byte length ("İ" is 2 bytes, its lowercase
	// form is 3). Keywords after such characters must still be replaced at
	// the right span, and the output must stay valid UTF-8.
	tests := []struct {
		name     string
		input    string
		keywords []string
		want     string
	}{
		{"keyword after fold-expanding runes", "İİİİ foo", []string{"foo"}, "İİİİ " + RedactionMarker},
		{"long fold-expanding prefix", strings.Repeat("İ", 10) + " foo", []string{"foo"}, strings.Repeat("İ", 10) + " " + RedactionMarker},
		{"keyword between multibyte runes", "İfooİ", []string{"foo"}, "İ" + RedactionMarker + "İ"},
		{"uppercase keyword after prefix", "İİ FOO bar", []string{"foo"}, "İİ " + RedactionMarker + " bar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Redact(tt.input, tt.keywords)
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("output is not valid UTF-8: %q", got)
			}
		})
	}
}

func TestRedact_RegexMetacharactersLiteral(t *testing.T) {
	t.Parallel()

	got := Redact("price is $5.00 today", []string{"$5.00"})
	want := "price is " + RedactionMarker + " today"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSanitize_TruncatesLongContent(t *testing.T) {
	t.Parallel()

	f := New(nil)
	pol := &policy.Policy{MaxResponseLength: 10}

	content := strings.Repeat("a", 20)
	got, blocked := f.Sanitize(context.Background(), content, pol)
	if blocked {
		t.Fatal("plain truncation must not report blocked")
	}
	want := strings.Repeat("a", 10) + EllipsisMarker
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if len(got) != 13 {
		t.Fatalf("expected final length 13 (10 + marker), got %d", len(got))
	}
}

func TestSanitize_ShortContentUnchanged(t *testing.T) {
	t.Parallel()

	f := New(nil)
	pol := &policy.Policy{MaxResponseLength: 10}

	got, blocked := f.Sanitize(context.Background(), "short", pol)
	if blocked || got != "short" {
		t.Fatalf("short content should pass through, got %q blocked=%v", got, blocked)
	}
}

func TestSanitize_FlaggedContentSkipsTruncation(t *testing.T) {
	t.Parallel()

	f := New(&stubModerator{flagged: true})
	pol := &policy.Policy{MaxResponseLength: 5, BlockHarmfulContent: true}

	got, blocked := f.Sanitize(context.Background(), strings.Repeat("x", 50), pol)
	if !blocked {
		t.Fatal("expected content to be blocked")
	}
	if got != RefusalMessage {
		t.Fatalf("expected full refusal message, got %q", got)
	}
}

func TestSanitize_ModerationErrorFailsOpen(t *testing.T) {
	t.Parallel()

	f := New(&stubModerator{err: errors.New("moderation endpoint down")})
	pol := &policy.Policy{MaxResponseLength: 100, BlockHarmfulContent: true}

	got, blocked := f.Sanitize(context.Background(), "fine answer", pol)
	if blocked || got != "fine answer" {
		t.Fatalf("moderation outage must fail open, got %q blocked=%v", got, blocked)
	}
}

func TestSanitize_ModerationDisabled(t *testing.T) {
	t.Parallel()

	f := New(&stubModerator{flagged: true})
	pol := &policy.Policy{MaxResponseLength: 100, BlockHarmfulContent: false}

	got, blocked := f.Sanitize(context.Background(), "anything", pol)
	if blocked || got != "anything" {
		t.Fatalf("disabled moderation must not block, got %q blocked=%v", got, blocked)
	}
}
