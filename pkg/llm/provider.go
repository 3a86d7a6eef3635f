package llm

import (
	"context"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a provider-agnostic chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // overrides the provider default
	JSON        bool   // ask the backend for a JSON-only response when it supports it
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

func WithJSON() Option {
	return func(o *Options) {
		o.JSON = true
	}
}

// Apply folds opts over defaults.
func Apply(defaults Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}

// LLMProvider is the text-generation contract used by the extractor and the
// chat fallback.
type LLMProvider interface {
	Chat(ctx context.Context, history []Message, options ...Option) (string, error)
	Generate(ctx context.Context, prompt string, options ...Option) (string, error)
}
