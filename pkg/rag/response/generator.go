package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
)

const (
	logModule          = "RESPONSE"
	DocumentContextCap = 2000
	historyWindow      = 6

	DefaultTimeout = 30 * time.Second
)

// Generator answers follow-up questions in Chat. When the knowledge base
// already produced an answer it is used as is; raw passages are turned
// into an answer by the LLM, or listed when no LLM is available.
type Generator struct {
	llmProvider llm.LLMProvider
	logger      logger.ILogger
	timeout     time.Duration
}

func NewGenerator(llmProvider llm.LLMProvider, logger logger.ILogger) *Generator {
	return &Generator{
		llmProvider: llmProvider,
		logger:      logger,
		timeout:     DefaultTimeout,
	}
}

// WithTimeout bounds each generation call. Non-positive keeps the default.
func (g *Generator) WithTimeout(d time.Duration) *Generator {
	if d > 0 {
		g.timeout = d
	}
	return g
}

type FollowUp struct {
	Question string
	Document string
	Profile  profile.ProjectProfile
	History  []llm.Message
	Response *retrieval.Response
}

func (g *Generator) Answer(ctx context.Context, in FollowUp) string {
	if in.Response == nil {
		return "I couldn't find anything relevant to that question."
	}
	if in.Response.OutputText != "" {
		return strings.TrimSpace(in.Response.OutputText)
	}
	if len(in.Response.Results) == 0 {
		return "I couldn't find anything relevant to that question. Try rephrasing it."
	}
	if g.llmProvider == nil {
		return FormatResults("Here is what I found:", in.Response.Results)
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt}}
	messages = append(messages, recent(in.History)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: buildGroundedPrompt(in)})

	genCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	answer, err := g.llmProvider.Chat(genCtx, messages, llm.WithTemperature(0.2))
	if err == nil && genCtx.Err() != nil {
		err = genCtx.Err()
	}
	if err != nil {
		g.logger.Warn(logModule, "Answer generation failed, returning passages", map[string]interface{}{
			"error":     err.Error(),
			"timed_out": errors.Is(err, context.DeadlineExceeded),
		})
		return FormatResults("Here is what I found:", in.Response.Results)
	}
	return strings.TrimSpace(answer)
}

const systemPrompt = "You are an assistant that recommends sustainability indicators and measurement methods " +
	"for circular bioeconomy projects. Answer only from the passages provided. " +
	"If the passages do not answer the question, say so briefly."

func buildGroundedPrompt(in FollowUp) string {
	var b strings.Builder

	b.WriteString("<project>\n")
	for _, f := range profile.RequiredFields {
		if in.Profile.IsPresent(f) {
			fmt.Fprintf(&b, "%s: %s\n", f, in.Profile.Value(f))
		}
	}
	b.WriteString("</project>\n\n")

	b.WriteString("<passages>\n")
	for i, r := range in.Response.Results {
		fmt.Fprintf(&b, "[%d] (source: %s, relevance: %.2f)\n%s\n\n", i+1, r.Source, r.Score, strings.TrimSpace(r.Content))
	}
	b.WriteString("</passages>\n\n")

	if doc := strings.TrimSpace(in.Document); doc != "" {
		b.WriteString("<document>\n")
		b.WriteString(Truncate(doc, DocumentContextCap))
		b.WriteString("\n</document>\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(in.Question)
	return b.String()
}

func recent(history []llm.Message) []llm.Message {
	if len(history) <= historyWindow {
		return history
	}
	return history[len(history)-historyWindow:]
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
