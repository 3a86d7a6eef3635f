package extractor

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/blake2b"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/utils"
)

const logModule = "EXTRACTOR"

type Options struct {
	MaxChars  int           // input is truncated to this many characters
	MaxChunks int           // documents are read in at most this many MaxChars windows
	Timeout   time.Duration // bound on a single generation call
	CacheTTL  time.Duration // zero disables the result cache
}

func DefaultOptions() Options {
	return Options{
		MaxChars:  15000,
		MaxChunks: 4,
		Timeout:   30 * time.Second,
		CacheTTL:  time.Hour,
	}
}

const chunkOverlap = 200

// Extractor turns free text into a partial ProjectProfile. It never returns
// an error; failures come back as Failed.
type Extractor struct {
	provider llm.LLMProvider
	logger   logger.ILogger
	opts     Options
	cache    *cache.Cache
}

func NewExtractor(provider llm.LLMProvider, log logger.ILogger, opts Options) *Extractor {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultOptions().MaxChars
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxChunks <= 0 {
		opts.MaxChunks = 1
	}

	e := &Extractor{
		provider: provider,
		logger:   log,
		opts:     opts,
	}
	if opts.CacheTTL > 0 {
		e.cache = cache.New(opts.CacheTTL, 10*time.Minute)
	}
	return e
}

func (e *Extractor) Extract(ctx context.Context, text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Failed{Reason: ReasonEmptyInput}
	}
	text = truncate(text, e.opts.MaxChars)

	key := digest(text)
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			return Ok{Profile: cached.(profile.ProjectProfile).Clone(), Cached: true}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	raw, err := e.provider.Chat(callCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: "Text to analyze:\n" + text},
	}, llm.WithTemperature(0), llm.WithJSON())
	if err != nil {
		e.logger.Warn(logModule, "Extraction call failed, using empty profile", map[string]interface{}{
			"error":       err.Error(),
			"timed_out":   errors.Is(callCtx.Err(), context.DeadlineExceeded),
			"input_chars": utf8.RuneCountInString(text),
		})
		return Failed{Reason: ReasonCallFailed, Err: err}
	}

	result := Parse(raw)
	switch r := result.(type) {
	case Ok:
		if e.cache != nil {
			e.cache.Set(key, r.Profile.Clone(), cache.DefaultExpiration)
		}
		e.logger.Debug(logModule, "Fields extracted", map[string]interface{}{
			"found": profile.FieldNames(presentFields(r.Profile)),
		})
	case Failed:
		e.logger.Warn(logModule, "Unparseable extraction response, using empty profile", map[string]interface{}{
			"reason": string(r.Reason),
			"raw":    truncate(r.Raw, 200),
		})
	}
	return result
}

// ExtractDocument reads a long text in MaxChars windows, up to MaxChunks of
// them, and combines what each window yields. A field found in an earlier
// window wins over later ones. The result is Failed only when every window
// failed.
func (e *Extractor) ExtractDocument(ctx context.Context, text string) Result {
	chunks := utils.SplitText(strings.TrimSpace(text), e.opts.MaxChars, chunkOverlap)
	if len(chunks) == 1 {
		return e.Extract(ctx, chunks[0])
	}
	if len(chunks) > e.opts.MaxChunks {
		e.logger.Warn(logModule, "Document longer than the extraction window, reading the start only", map[string]interface{}{
			"chunks":     len(chunks),
			"max_chunks": e.opts.MaxChunks,
		})
		chunks = chunks[:e.opts.MaxChunks]
	}

	var (
		merged   profile.ProjectProfile
		anyOk    bool
		firstBad Result
	)
	for _, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}
		switch r := e.Extract(ctx, chunk).(type) {
		case Ok:
			merged = profile.Merge(r.Profile, merged)
			anyOk = true
		default:
			if firstBad == nil {
				firstBad = r
			}
		}
	}

	if !anyOk {
		if firstBad == nil {
			return Failed{Reason: ReasonCallFailed, Err: ctx.Err()}
		}
		return firstBad
	}
	if merged.Outcomes == nil {
		merged.Outcomes = []string{}
	}
	return Ok{Profile: merged}
}

// rawFields accepts loose shapes: commodity as an alias of project_type and
// outcomes as either a list or a single string.
type rawFields struct {
	Location    interface{} `json:"location"`
	ProjectType interface{} `json:"project_type"`
	Commodity   interface{} `json:"commodity"`
	Outcomes    interface{} `json:"outcomes"`
	Budget      interface{} `json:"budget"`
	Capacity    interface{} `json:"capacity"`
}

// Parse interprets a model response. Markdown code fences are stripped and
// the outermost JSON object is decoded.
func Parse(raw string) Result {
	body := extractJSON(stripFences(raw))
	if body == "" {
		return Failed{Reason: ReasonNoJSON, Raw: raw}
	}

	var fields rawFields
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Failed{Reason: ReasonInvalidJSON, Raw: raw, Err: fmt.Errorf("unmarshal extraction: %w", err)}
	}

	p := profile.ProjectProfile{
		Location:    scalar(fields.Location),
		ProjectType: scalar(fields.ProjectType),
		Outcomes:    list(fields.Outcomes),
		Budget:      profile.NormalizeBudget(scalar(fields.Budget)),
		Capacity:    profile.NormalizeCapacity(scalar(fields.Capacity)),
	}
	if p.ProjectType == "" {
		p.ProjectType = scalar(fields.Commodity)
	}
	return Ok{Profile: p}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

var placeholders = map[string]bool{
	"null": true, "none": true, "unknown": true, "n/a": true, "na": true, "...": true, "not specified": true,
}

func scalar(v interface{}) string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = fmt.Sprintf("%g", t)
	case []interface{}:
		return strings.Join(list(t), ", ")
	default:
		return ""
	}
	s = strings.TrimSpace(s)
	if placeholders[strings.ToLower(s)] {
		return ""
	}
	return s
}

func list(v interface{}) []string {
	out := []string{}
	switch t := v.(type) {
	case []interface{}:
		for _, item := range t {
			if s := scalar(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := scalar(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func presentFields(p profile.ProjectProfile) []profile.Field {
	var fields []profile.Field
	for _, f := range profile.RequiredFields {
		if p.IsPresent(f) {
			fields = append(fields, f)
		}
	}
	return fields
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxChars])
}

func digest(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
