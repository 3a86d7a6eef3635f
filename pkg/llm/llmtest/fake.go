// Package llmtest provides a scripted LLMProvider for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
)

// Provider answers every call with Respond. Calls are recorded.
type Provider struct {
	Respond func(history []llm.Message) (string, error)

	mu    sync.Mutex
	calls [][]llm.Message
}

var _ llm.LLMProvider = (*Provider)(nil)

// Static always returns the same response.
func Static(response string, err error) *Provider {
	return &Provider{Respond: func([]llm.Message) (string, error) { return response, err }}
}

func (p *Provider) Chat(ctx context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]llm.Message(nil), history...))
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.Respond(history)
}

func (p *Provider) Generate(ctx context.Context, prompt string, opts ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts...)
}

func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// LastUserMessage returns the content of the final message of the latest call.
func (p *Provider) LastUserMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		return ""
	}
	last := p.calls[len(p.calls)-1]
	if len(last) == 0 {
		return ""
	}
	return last[len(last)-1].Content
}
