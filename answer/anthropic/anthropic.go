// Package anthropic provides an answerer backed by the Anthropic Claude API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/dialogmesh/answer"
	"github.com/hupe1980/dialogmesh/core"
)

// DefaultSystemPrompt frames the model as a concise shop assistant.
const DefaultSystemPrompt = "You are a concise, friendly customer-support assistant for an online shop. " +
	"Answer the customer's question in a few sentences. If the question needs account-specific data you do not have, say so."

// Options configures the Anthropic answerer (model id, max tokens,
// temperature, system prompt, API key).
type Options struct {
	Model        anthropic.Model
	Temperature  float64
	MaxTokens    int64
	SystemPrompt string
	APIKey       string
}

// Answerer wraps the Anthropic Messages API behind the answer.Answerer interface.
type Answerer struct {
	client *anthropic.Client
	opts   Options
}

// NewAnswerer creates a new Anthropic answerer using the official client.
func NewAnswerer(optFns ...func(o *Options)) *Answerer {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Answerer{
		client: &client,
		opts:   opts,
	}
}

// NewAnswererFromClient creates a new Anthropic answerer from an existing client.
func NewAnswererFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Answerer {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Answerer{
		client: client,
		opts:   opts,
	}
}

func defaultOptions() Options {
	return Options{
		Model:        anthropic.ModelClaude3_5Sonnet20241022,
		Temperature:  0.7,
		MaxTokens:    1024,
		SystemPrompt: DefaultSystemPrompt,
	}
}

// Answer implements answer.Answerer. Recent turns become the message history
// and the query is appended as the final user message.
func (a *Answerer) Answer(ctx context.Context, query string, recent []core.TurnRecord) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       a.opts.Model,
		Messages:    buildMessages(query, recent),
		MaxTokens:   a.opts.MaxTokens,
		Temperature: anthropic.Float(a.opts.Temperature),
	}
	if a.opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.opts.SystemPrompt}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("anthropic returned no text content")
	}
	return text, nil
}

// Info returns metadata describing this Anthropic answerer implementation.
func (a *Answerer) Info() answer.Info {
	return answer.Info{Name: string(a.opts.Model), Provider: "anthropic"}
}

// buildMessages converts the recent turn history plus the current query into
// Anthropic message format. Bot turns map to assistant messages.
func buildMessages(query string, recent []core.TurnRecord) []anthropic.MessageParam {
	var messages []anthropic.MessageParam
	for _, turn := range recent {
		if turn.Text == "" {
			continue
		}
		switch turn.Role {
		case core.TurnRoleBot:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(query)))
	return messages
}
