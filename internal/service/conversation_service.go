package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/dto"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/metrics"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/internal/pkg/logger"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/blob"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/document"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/events"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/extractor"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/llm"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/profile"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/query"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/response"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/session"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/rag/state"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/recommendation"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/retrieval"
	"github.com/CircularBioeconomyAlliance/coffee-recipe/pkg/store"
)

const logModule = "CONVERSATION"

var skipPhrases = []string{"skip", "no document", "no file", "continue without", "no doc"}

// IConversationService is the turn-by-turn intake workflow.
type IConversationService interface {
	// ProcessTurn never returns an error; failures come back as a
	// response with status "error".
	ProcessTurn(ctx context.Context, req *dto.TurnRequest) *dto.TurnResponse
	ProcessUpload(ctx context.Context, req *dto.UploadRequest) (*dto.UploadResponse, error)
	GetSession(ctx context.Context, actorID, sessionID string) (*dto.SessionResponse, error)
	DeleteSession(ctx context.Context, actorID, sessionID string) error
	GetRecommendations(ctx context.Context, actorID, sessionID string) (*dto.RecommendationsResponse, error)
	SetField(ctx context.Context, actorID, sessionID string, req *dto.SetFieldRequest) (*dto.SessionResponse, error)
}

type ConversationLimits struct {
	MaxUploadBytes int
}

type conversationService struct {
	sessions  *session.Manager
	states    *state.Manager
	extractor *extractor.Extractor
	queries   *query.Builder
	gateway   *retrieval.Gateway
	generator *response.Generator
	parser    recommendation.Parser
	blobs     blob.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    logger.ILogger
	limits    ConversationLimits
	now       func() time.Time
}

func NewConversationService(
	sessions *session.Manager,
	states *state.Manager,
	fieldExtractor *extractor.Extractor,
	queries *query.Builder,
	gateway *retrieval.Gateway,
	generator *response.Generator,
	parser recommendation.Parser,
	blobs blob.Store,
	publisher events.Publisher,
	m *metrics.Metrics,
	log logger.ILogger,
	limits ConversationLimits,
) IConversationService {
	return &conversationService{
		sessions:  sessions,
		states:    states,
		extractor: fieldExtractor,
		queries:   queries,
		gateway:   gateway,
		generator: generator,
		parser:    parser,
		blobs:     blobs,
		publisher: publisher,
		metrics:   m,
		logger:    log,
		limits:    limits,
		now:       time.Now,
	}
}

// turn accumulates the outcome of one ProcessTurn call.
type turn struct {
	session *store.Session
	before  profile.ProjectProfile
	reply   string
	failure *dto.TurnResponse
	// commitReply is false when the assistant reply must stay out of the
	// history, e.g. after a failed retrieval.
	commitReply bool
}

func (cs *conversationService) ProcessTurn(ctx context.Context, req *dto.TurnRequest) *dto.TurnResponse {
	actorID := orNewID(req.ActorID)
	sessionID := orNewID(req.SessionID)
	prompt := strings.TrimSpace(req.Prompt)
	fileContent := strings.TrimSpace(req.FileContent)

	if prompt == "" && fileContent == "" && req.Profile == nil {
		return cs.rejectTurn(actorID, sessionID, "validation", response.EmptyMessage)
	}
	if fileContent != "" {
		if err := document.CheckSize(len(req.FileContent), cs.limits.MaxUploadBytes); err != nil {
			return cs.rejectTurn(actorID, sessionID, "validation", "The attached document is larger than the upload limit.")
		}
	}

	unlock := cs.sessions.Lock(actorID, sessionID)
	defer unlock()

	s, _, err := cs.sessions.LoadOrCreate(ctx, actorID, sessionID)
	if err != nil {
		cs.logger.Error(logModule, "Failed to load session", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return cs.rejectTurn(actorID, sessionID, "session_store", "Your conversation could not be loaded. Please try again.")
	}

	t := &turn{session: s, before: s.Profile.Clone(), commitReply: true}
	if prompt != "" {
		s.Append(llm.RoleUser, prompt)
		cs.sessions.UpdateTitle(s, prompt)
	}
	if req.Profile != nil {
		s.Profile = profile.Merge(s.Profile, req.Profile.ToProfile())
	}

	// a turn never starts in a transient phase; recover to Ask
	if s.Phase == store.PhaseExtract || s.Phase == store.PhaseRetrieve {
		s.Phase = store.PhaseAsk
	}

	switch s.Phase {
	case store.PhaseChat:
		cs.chatTurn(ctx, t, prompt, fileContent, req)
	case store.PhaseAsk:
		if fileContent != "" {
			cs.mergeDocument(ctx, s, fileContent)
		}
		cs.mergeUtterance(ctx, s, prompt)
		cs.askOrRetrieve(ctx, t)
	default:
		cs.uploadTurn(ctx, t, prompt, fileContent)
	}

	return cs.finishTurn(ctx, t)
}

func (cs *conversationService) uploadTurn(ctx context.Context, t *turn, prompt, fileContent string) {
	s := t.session
	switch {
	case fileContent != "":
		_ = cs.states.TransitionToExtract(s)
		cs.mergeDocument(ctx, s, fileContent)
		_ = cs.states.TransitionToAsk(s)
		if !isSkip(prompt) || skipCarriesDetails(prompt) {
			cs.mergeUtterance(ctx, s, prompt)
		}
	case isSkip(prompt) || prompt == "":
		_ = cs.states.TransitionToAsk(s)
		// "no document, but it's cotton in Chad" still answers questions
		if skipCarriesDetails(prompt) {
			cs.mergeUtterance(ctx, s, prompt)
		}
	default:
		// anything else is an implicit skip answered as an Ask turn
		_ = cs.states.TransitionToAsk(s)
		cs.mergeUtterance(ctx, s, prompt)
	}
	cs.askOrRetrieve(ctx, t)
}

// askOrRetrieve asks for the next missing field, or runs the first
// retrieval once the profile is complete.
func (cs *conversationService) askOrRetrieve(ctx context.Context, t *turn) {
	s := t.session
	learned := profile.Changed(t.before, s.Profile)

	if next, missing := profile.NextMissing(s.Profile); missing {
		_ = cs.states.TransitionToAsk(s)
		t.reply = response.AskMessage(learned, s.Profile, next)
		return
	}

	_ = cs.states.TransitionToRetrieve(s)
	cs.publish(ctx, events.TypeIntakeCompleted, s, map[string]interface{}{
		"profile": s.Profile.Found(),
	})

	q := cs.queries.Build(s.Profile, nil)
	s.LastQuery = q

	resp, err := cs.gateway.RetrieveAndGenerate(ctx, q, 0)
	if err != nil {
		_ = cs.states.TransitionToAsk(s)
		cs.retrievalFailed(ctx, t, err)
		return
	}

	s.Indicators = resp.Results
	s.LastOutput = resp.OutputText
	_ = cs.states.TransitionToChat(s)
	t.reply = response.Recommendations(resp)

	cs.publish(ctx, events.TypeRecommendationsDelivered, s, map[string]interface{}{
		"query":   q,
		"results": len(resp.Results),
	})
	cs.publishSummary(ctx, s)
}

func (cs *conversationService) chatTurn(ctx context.Context, t *turn, prompt, fileContent string, req *dto.TurnRequest) {
	s := t.session

	q := prompt
	if topic, ok := query.ParseTopic(req.Topic); ok {
		q = cs.queries.Build(s.Profile, &query.Hint{Topic: topic, Value: req.TopicValue})
	}
	if q == "" {
		q = s.LastQuery
	}
	if q == "" {
		q = cs.queries.Build(s.Profile, nil)
	}
	if fileContent != "" {
		s.Profile.DocumentsUploaded = true
	}

	resp, err := cs.gateway.RetrieveAndGenerate(ctx, q, 0)
	if err != nil {
		_ = cs.states.TransitionToChat(s)
		cs.retrievalFailed(ctx, t, err)
		return
	}

	s.LastQuery = q
	s.Indicators = resp.Results
	if resp.OutputText != "" {
		s.LastOutput = resp.OutputText
	}
	_ = cs.states.TransitionToChat(s)

	t.reply = cs.generator.Answer(ctx, response.FollowUp{
		Question: q,
		Document: fileContent,
		Profile:  s.Profile,
		History:  s.History[:len(s.History)-boolToInt(prompt != "")],
		Response: resp,
	})

	cs.publish(ctx, events.TypeRecommendationsDelivered, s, map[string]interface{}{
		"query":   q,
		"results": len(resp.Results),
	})
}

func (cs *conversationService) retrievalFailed(ctx context.Context, t *turn, err error) {
	s := t.session
	kind := retrieval.KindOf(err)
	rerr, ok := retrieval.AsError(err)
	retryable := ok && rerr.Retryable()

	cs.logger.Error(logModule, "Retrieval failed", map[string]interface{}{
		"session_id": s.ID,
		"kind":       kind,
		"phase":      s.Phase,
		"error":      err.Error(),
	})
	cs.publish(ctx, events.TypeRetrievalFailed, s, map[string]interface{}{
		"kind":      string(kind),
		"retryable": retryable,
	})

	hint := response.RetrievalFailure(err)
	t.reply = hint
	t.commitReply = false
	t.failure = &dto.TurnResponse{
		Status:    dto.StatusError,
		ErrorType: string(kind),
		Retryable: retryable,
		Hint:      hint,
	}
}

func (cs *conversationService) finishTurn(ctx context.Context, t *turn) *dto.TurnResponse {
	s := t.session

	if t.commitReply && t.reply != "" {
		s.Append(llm.RoleAssistant, t.reply)
	}
	if changed := profile.Changed(t.before, s.Profile); len(changed) > 0 {
		if err := cs.sessions.Remember(ctx, s, changed); err != nil {
			cs.metrics.ObserveMemoryDegraded()
		}
	}
	if err := cs.sessions.Save(ctx, s); err != nil {
		cs.logger.Error(logModule, "Failed to save session", map[string]interface{}{
			"session_id": s.ID,
			"error":      err.Error(),
		})
	}

	resp := &dto.TurnResponse{
		Result:     t.reply,
		Status:     dto.StatusSuccess,
		SessionID:  s.ID,
		ActorID:    s.ActorID,
		Phase:      string(s.Phase),
		Missing:    profile.FieldNames(profile.MissingFields(s.Profile)),
		Indicators: s.Indicators,
	}
	if t.failure != nil {
		resp.Status = t.failure.Status
		resp.ErrorType = t.failure.ErrorType
		resp.Retryable = t.failure.Retryable
		resp.Hint = t.failure.Hint
	}

	cs.metrics.ObserveTurn(resp.Phase, resp.Status)
	cs.logger.Info(logModule, "Turn processed", map[string]interface{}{
		"session_id": s.ID,
		"phase":      resp.Phase,
		"status":     resp.Status,
		"missing":    resp.Missing,
	})
	return resp
}

func (cs *conversationService) rejectTurn(actorID, sessionID, errorType, hint string) *dto.TurnResponse {
	cs.metrics.ObserveTurn("none", dto.StatusError)
	return &dto.TurnResponse{
		Result:    hint,
		Status:    dto.StatusError,
		SessionID: sessionID,
		ActorID:   actorID,
		ErrorType: errorType,
		Hint:      hint,
	}
}

// mergeUtterance runs the extractor over a chat message and merges what
// it found.
func (cs *conversationService) mergeUtterance(ctx context.Context, s *store.Session, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.Profile = profile.Merge(s.Profile, cs.extract(ctx, text))
}

func (cs *conversationService) mergeDocument(ctx context.Context, s *store.Session, text string) {
	fields := cs.extractDocument(ctx, text)
	fields.DocumentsUploaded = true
	s.Profile = profile.Merge(s.Profile, fields)
}

func (cs *conversationService) extract(ctx context.Context, text string) profile.ProjectProfile {
	return cs.observeExtraction(cs.extractor.Extract(ctx, text))
}

func (cs *conversationService) extractDocument(ctx context.Context, text string) profile.ProjectProfile {
	return cs.observeExtraction(cs.extractor.ExtractDocument(ctx, text))
}

func (cs *conversationService) observeExtraction(result extractor.Result) profile.ProjectProfile {
	if failed, ok := result.(extractor.Failed); ok && failed.Reason != extractor.ReasonEmptyInput {
		cs.metrics.ObserveExtractionFallback(string(failed.Reason))
	}
	return result.Fields()
}

func (cs *conversationService) ProcessUpload(ctx context.Context, req *dto.UploadRequest) (*dto.UploadResponse, error) {
	data, err := document.Decode(req.Data, req.Base64)
	if err != nil {
		cs.metrics.ObserveUpload("rejected")
		return nil, &ValidationError{Err: err}
	}
	if err := document.CheckSize(len(data), cs.limits.MaxUploadBytes); err != nil {
		cs.metrics.ObserveUpload("rejected")
		return nil, &ValidationError{Err: err}
	}
	doc, err := document.Extract(data, req.Filename)
	if err != nil {
		cs.metrics.ObserveUpload("rejected")
		return nil, &ValidationError{Err: err}
	}

	uri, err := cs.blobs.Put(ctx, data, blob.NewKey(cs.now(), doc.Extension))
	if err != nil {
		cs.logger.Warn("UPLOAD", "Blob storage failed, continuing without a stored copy", map[string]interface{}{
			"error": err.Error(),
		})
		uri = ""
	}

	fields := cs.extractDocument(ctx, doc.Text)
	fields.DocumentsUploaded = true

	out := &dto.UploadResponse{
		Found:       dto.UploadFound(fields),
		Missing:     profile.FieldNames(profile.MissingFields(fields)),
		DocumentURI: uri,
	}

	if req.SessionID != "" || req.ActorID != "" {
		s, err := cs.attachDocument(ctx, req, fields, uri)
		if err != nil {
			return nil, err
		}
		out.SessionID = s.ID
		out.ActorID = s.ActorID
		out.Phase = string(s.Phase)
		out.Missing = profile.FieldNames(profile.MissingFields(s.Profile))
		out.Message = response.UploadSummary(s.Profile, profile.MissingFields(s.Profile))
	} else {
		out.Message = response.UploadSummary(fields, profile.MissingFields(fields))
	}

	cs.metrics.ObserveUpload("accepted")
	cs.logger.Info("UPLOAD", "Document processed", map[string]interface{}{
		"mime":       doc.MIME,
		"size":       doc.Size,
		"session_id": out.SessionID,
		"found":      len(fields.Found()),
	})
	return out, nil
}

// attachDocument merges uploaded fields into a session, moving it from
// Upload through Extract to Ask.
func (cs *conversationService) attachDocument(ctx context.Context, req *dto.UploadRequest, fields profile.ProjectProfile, uri string) (*store.Session, error) {
	actorID := orNewID(req.ActorID)
	sessionID := orNewID(req.SessionID)

	unlock := cs.sessions.Lock(actorID, sessionID)
	defer unlock()

	s, _, err := cs.sessions.LoadOrCreate(ctx, actorID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	before := s.Profile.Clone()

	if s.Phase == store.PhaseUpload || s.Phase == "" {
		_ = cs.states.TransitionToExtract(s)
	}
	s.Profile = profile.Merge(s.Profile, fields)
	if s.Phase == store.PhaseExtract {
		_ = cs.states.TransitionToAsk(s)
	}
	s.DocumentURI = uri

	if changed := profile.Changed(before, s.Profile); len(changed) > 0 {
		if err := cs.sessions.Remember(ctx, s, changed); err != nil {
			cs.metrics.ObserveMemoryDegraded()
		}
	}
	if err := cs.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	cs.publish(ctx, events.TypeDocumentUploaded, s, map[string]interface{}{
		"document_uri": uri,
		"found":        fields.Found(),
	})
	return s, nil
}

func (cs *conversationService) GetSession(ctx context.Context, actorID, sessionID string) (*dto.SessionResponse, error) {
	s, err := cs.sessions.Get(ctx, actorID, sessionID)
	if err != nil {
		return nil, err
	}
	return toSessionResponse(s), nil
}

// DeleteSession drops the short-term session after summarizing it into
// long-term memory.
func (cs *conversationService) DeleteSession(ctx context.Context, actorID, sessionID string) error {
	unlock := cs.sessions.Lock(actorID, sessionID)
	defer unlock()

	s, err := cs.sessions.Get(ctx, actorID, sessionID)
	if err != nil {
		return err
	}
	cs.publishSummary(ctx, s)
	return cs.sessions.Delete(ctx, actorID, sessionID)
}

func (cs *conversationService) GetRecommendations(ctx context.Context, actorID, sessionID string) (*dto.RecommendationsResponse, error) {
	s, err := cs.sessions.Get(ctx, actorID, sessionID)
	if err != nil {
		return nil, err
	}

	text := s.LastOutput
	if text == "" {
		parts := make([]string, 0, len(s.Indicators))
		for _, r := range s.Indicators {
			parts = append(parts, r.Content)
		}
		text = strings.Join(parts, "\n\n")
	}

	return &dto.RecommendationsResponse{
		SessionID:       s.ID,
		Recommendations: cs.parser.Parse(text),
	}, nil
}

func (cs *conversationService) SetField(ctx context.Context, actorID, sessionID string, req *dto.SetFieldRequest) (*dto.SessionResponse, error) {
	field, ok := profile.ParseField(req.Field)
	if !ok {
		return nil, &ValidationError{Err: fmt.Errorf("unknown field %q", req.Field)}
	}
	var update profile.ProjectProfile
	if !update.Set(field, req.Value) {
		return nil, &ValidationError{Err: fmt.Errorf("%s needs a non-empty value", field)}
	}

	unlock := cs.sessions.Lock(actorID, sessionID)
	defer unlock()

	s, err := cs.sessions.Get(ctx, actorID, sessionID)
	if err != nil {
		return nil, err
	}
	before := s.Profile.Clone()
	s.Profile = profile.Merge(s.Profile, update)
	if s.Phase == store.PhaseUpload {
		_ = cs.states.TransitionToAsk(s)
	}

	if changed := profile.Changed(before, s.Profile); len(changed) > 0 {
		if err := cs.sessions.Remember(ctx, s, changed); err != nil {
			cs.metrics.ObserveMemoryDegraded()
		}
	}
	if err := cs.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return toSessionResponse(s), nil
}

func (cs *conversationService) publish(ctx context.Context, eventType string, s *store.Session, data map[string]interface{}) {
	if cs.publisher == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["session_id"] = s.ID
	data["actor_id"] = s.ActorID
	data["phase"] = string(s.Phase)

	if err := cs.publisher.Publish(ctx, events.New(eventType, data)); err != nil {
		cs.logger.Warn("EVENTS", "Failed to publish event", map[string]interface{}{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

func (cs *conversationService) publishSummary(ctx context.Context, s *store.Session) {
	summary := Summarize(s)
	if summary == "" {
		return
	}
	cs.publish(ctx, events.TypeSessionSummarized, s, map[string]interface{}{
		"summary": summary,
	})
}

// Summarize renders the durable gist of a session: its project profile and
// how far it got.
func Summarize(s *store.Session) string {
	parts := make([]string, 0, len(profile.RequiredFields))
	for _, f := range profile.RequiredFields {
		if s.Profile.IsPresent(f) {
			parts = append(parts, fmt.Sprintf("%s: %s", f, s.Profile.Value(f)))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	summary := "Project " + strings.Join(parts, "; ") + "."
	if len(s.Indicators) > 0 {
		summary += fmt.Sprintf(" %d indicator passages were recommended.", len(s.Indicators))
	}
	return summary
}

func toSessionResponse(s *store.Session) *dto.SessionResponse {
	return &dto.SessionResponse{
		SessionID:        s.ID,
		ActorID:          s.ActorID,
		RuntimeSessionID: s.RuntimeSessionID,
		Title:            s.Title,
		Phase:            string(s.Phase),
		Profile:          s.Profile,
		Missing:          profile.FieldNames(profile.MissingFields(s.Profile)),
		Complete:         profile.IsComplete(s.Profile),
		History:          s.History,
		Indicators:       s.Indicators,
		DocumentURI:      s.DocumentURI,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func isSkip(prompt string) bool {
	p := strings.ToLower(strings.TrimSpace(prompt))
	if p == "" {
		return false
	}
	for _, phrase := range skipPhrases {
		if strings.Contains(p, phrase) {
			return true
		}
	}
	return p == "no"
}

// skipFiller are words that can surround a skip phrase without saying
// anything about the project.
var skipFiller = map[string]struct{}{
	"i": {}, "i'll": {}, "ill": {}, "im": {}, "i'm": {}, "have": {}, "dont": {}, "don't": {},
	"a": {}, "an": {}, "the": {}, "any": {}, "and": {}, "but": {}, "so": {}, "just": {},
	"no": {}, "not": {}, "yet": {}, "for": {}, "now": {}, "please": {}, "ok": {}, "okay": {},
	"thanks": {}, "let's": {}, "lets": {}, "go": {}, "on": {}, "to": {}, "it": {}, "this": {},
	"document": {}, "documents": {}, "doc": {}, "file": {}, "files": {}, "upload": {},
	"uploading": {}, "without": {}, "continue": {}, "skip": {}, "skipping": {}, "one": {},
}

// skipCarriesDetails reports whether a skip utterance says more than the
// skip itself, so it is worth sending to the extractor.
func skipCarriesDetails(prompt string) bool {
	p := strings.ToLower(prompt)
	for _, phrase := range skipPhrases {
		p = strings.ReplaceAll(p, phrase, " ")
	}
	words := strings.FieldsFunc(p, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, w := range words {
		if _, filler := skipFiller[w]; !filler {
			return true
		}
	}
	return false
}

func orNewID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ValidationError rejects input before any external call is made.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
