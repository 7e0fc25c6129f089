// Package filter applies content policy around generation: keyword redaction
// before a prompt is sent upstream, moderation and truncation on the way
// back. Moderation is a best-effort safety net; every failure here fails
// open rather than blocking the response.
package filter

import (
	"context"
	"regexp"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/parleyhq/parley/pkg/policy"
)

const (
	// RedactionMarker replaces each blocked keyword occurrence.
	RedactionMarker = "[redacted]"

	// RefusalMessage substitutes content that failed moderation. Callers
	// receive it as a normal answer, not an error.
	RefusalMessage = "I'm sorry, but I can't provide that response."

	// EllipsisMarker is appended to truncated content. It is not counted
	// against the configured maximum length.
	EllipsisMarker = "..."
)

// Moderator decides whether generated text violates content policy.
type Moderator interface {
	Flagged(ctx context.Context, text string) (bool, error)
}

// OpenAIModerator checks text against the OpenAI moderations endpoint using
// the operator credential.
type OpenAIModerator struct {
	client *openai.Client
}

func NewOpenAIModerator(apiKey string) *OpenAIModerator {
	return &OpenAIModerator{client: openai.NewClient(apiKey)}
}

func (m *OpenAIModerator) Flagged(ctx context.Context, text string) (bool, error) {
	resp, err := m.client.Moderations(ctx, openai.ModerationRequest{Input: text})
	if err != nil {
		return false, err
	}
	for _, r := range resp.Results {
		if r.Flagged {
			return true, nil
		}
	}
	return false, nil
}

// Filter is the two-stage content filter.
type Filter struct {
	moderator Moderator
}

func New(moderator Moderator) *Filter {
	return &Filter{moderator: moderator}
}

// Redact replaces every case-insensitive occurrence of each blocked keyword
// with the redaction marker. Keywords are applied sequentially in policy
// order; a replacement is not re-scanned for the same keyword but may be
// matched by a later one. Matching is done on the original string, so
// multibyte text whose case-folded form has a different byte length is
// handled correctly.
func Redact(text string, keywords []string) string {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(kw))
		if err != nil {
			continue
		}
		text = re.ReplaceAllLiteralString(text, RedactionMarker)
	}
	return text
}

// Sanitize applies the post-receive stage to generated content. When the
// text is flagged by moderation the fixed refusal message is returned with
// blocked=true and truncation is skipped. Otherwise overly long content is
// cut to the policy maximum plus the ellipsis marker.
func (f *Filter) Sanitize(ctx context.Context, content string, pol *policy.Policy) (result string, blocked bool) {
	if pol.BlockHarmfulContent && f.moderator != nil {
		flagged, err := f.moderator.Flagged(ctx, content)
		if err != nil {
			// Fail open: moderation outages must not block responses.
			logrus.WithError(err).Warn("moderation check failed, passing content through")
		} else if flagged {
			return RefusalMessage, true
		}
	}

	if runes := []rune(content); len(runes) > pol.MaxResponseLength {
		return string(runes[:pol.MaxResponseLength]) + EllipsisMarker, false
	}
	return content, false
}
