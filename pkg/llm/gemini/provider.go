package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
)

const defaultModel = "gemini-2.0-flash"

// GeminiProvider generates text through the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

var _ llm.LLMProvider = &GeminiProvider{}

func NewGeminiProvider(ctx context.Context, apiKey, model string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	opts := llm.Apply(llm.Options{Model: p.model, Temperature: 0.7}, options...)

	system, contents := toContents(history)
	if len(contents) == 0 {
		return "", fmt.Errorf("gemini chat requires at least one non-system message")
	}

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(float32(opts.Temperature)),
		SystemInstruction: system,
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, opts.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate failed: %w", err)
	}

	return resp.Text(), nil
}

func (p *GeminiProvider) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, options...)
}

// toContents splits system messages out into a system instruction and maps
// assistant turns to the model role.
func toContents(history []llm.Message) (*genai.Content, []*genai.Content) {
	var (
		systemParts []string
		contents    []*genai.Content
	)
	for _, msg := range history {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)
		case llm.RoleAssistant, "model":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	var system *genai.Content
	if len(systemParts) > 0 {
		system = genai.NewContentFromText(strings.Join(systemParts, "\n\n"), genai.RoleUser)
	}
	return system, contents
}
