// Package openai provides an answerer backed by the OpenAI Chat Completions
// API. It adapts DialogMesh turn history into the SDK's message format.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/dialogmesh/answer"
	"github.com/hupe1980/dialogmesh/core"
)

// DefaultSystemPrompt frames the model as a concise shop assistant.
const DefaultSystemPrompt = "You are a concise, friendly customer-support assistant for an online shop. " +
	"Answer the customer's question in a few sentences. If the question needs account-specific data you do not have, say so."

// Options configure the OpenAI answerer. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal; extend via functional
// options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	SystemPrompt        string
}

// Answerer wraps the OpenAI Chat Completions API behind the answer.Answerer interface.
type Answerer struct {
	client *openai.Client
	opts   Options
}

// NewAnswerer creates a new OpenAI answerer using the official client.
func NewAnswerer(optFns ...func(o *Options)) *Answerer {
	client := openai.NewClient()
	return NewAnswererFromClient(&client, optFns...)
}

// NewAnswererFromClient creates a new OpenAI answerer from an existing client.
func NewAnswererFromClient(client *openai.Client, optFns ...func(o *Options)) *Answerer {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 1024,
		SystemPrompt:        DefaultSystemPrompt,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Answerer{client: client, opts: opts}
}

// Answer implements answer.Answerer with a single non-streaming completion.
func (a *Answerer) Answer(ctx context.Context, query string, recent []core.TurnRecord) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(a.opts.SystemPrompt, query, recent),
		Model:               a.opts.Model,
		Temperature:         openai.Float(a.opts.Temperature),
		MaxCompletionTokens: openai.Int(a.opts.MaxCompletionTokens),
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", fmt.Errorf("openai returned no text content")
	}
	return text, nil
}

// Info returns metadata describing this OpenAI answerer implementation.
func (a *Answerer) Info() answer.Info {
	return answer.Info{Name: a.opts.Model, Provider: "openai"}
}

// buildMessages converts the recent turn history plus the current query into
// OpenAI chat messages. Bot turns map to assistant messages.
func buildMessages(systemPrompt, query string, recent []core.TurnRecord) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	for _, turn := range recent {
		if turn.Text == "" {
			continue
		}
		switch turn.Role {
		case core.TurnRoleBot:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(query))
	return messages
}
