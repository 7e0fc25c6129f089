package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// Provider path names, recorded in completion logs and metrics.
const (
	NamePersonal = "openai-personal"
	NameOperator = "openai-operator"
	NameFreeTier = "free-tier"
)

// OpenAIProvider serves completions through the OpenAI API with a specific
// credential (personal or operator).
type OpenAIProvider struct {
	client *openai.Client
	name   string
}

func NewOpenAIProvider(apiKey, name string) *OpenAIProvider {
	return &OpenAIProvider{client: openai.NewClient(apiKey), name: name}
}

func (p *OpenAIProvider) Name() string {
	return p.name
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	if len(resp.Choices) == 0 {
		logrus.WithField("provider", p.name).Warn("upstream returned no choices")
		return nil, fmt.Errorf("empty completion from %s: %w", p.name, ErrUnavailable)
	}

	return &Result{
		Content:  resp.Choices[0].Message.Content,
		Tokens:   resp.Usage.TotalTokens,
		Provider: p.name,
	}, nil
}

func (p *OpenAIProvider) mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			logrus.WithField("provider", p.name).WithError(err).Warn("credential rejected by upstream")
			return fmt.Errorf("%s: %w", p.name, ErrCredentialInvalid)
		}
	}
	logrus.WithField("provider", p.name).WithError(err).Error("upstream request failed")
	return fmt.Errorf("%s: %w", p.name, ErrUnavailable)
}
