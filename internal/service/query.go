package service

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"podcastrag/internal/config"
	"podcastrag/internal/conversation"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/logger"
	"podcastrag/internal/preprocess"
	"podcastrag/internal/prompt"
	"podcastrag/internal/retriever"
)

// errStreamTruncated is reported when the generator stops without signalling completion.
var errStreamTruncated = errors.New("generation stream ended early")

// topicsPerTurn is how many episode themes one answer contributes to the context.
const topicsPerTurn = 3

// QueryDeps are the collaborators of a QueryService.
type QueryDeps struct {
	Preprocessor *preprocess.Preprocessor
	Retriever    *retriever.Retriever
	Prompts      *prompt.Builder
	Generator    domain.Generator
	Logger       *logger.Logger
}

// Request is one user question.
type Request struct {
	Question string
	// TopK <= 0 uses the configured default.
	TopK           int
	Diversity      bool
	GuestFilter    string
	IndustryFilter string
	// Stateless answers from the question alone and leaves the conversation untouched.
	Stateless bool
}

type Response struct {
	Answer  string                      `json:"answer"`
	Sources []domain.RetrievalCandidate `json:"sources"`
	Query   domain.ProcessedQuery       `json:"query"`
	Model   string                      `json:"model"`
}

// QueryService runs the question lifecycle against one conversation.
// It serves one query at a time; callers serialize access.
type QueryService struct {
	deps  QueryDeps
	state *conversation.State
	cfg   config.RetrievalConfig
	log   *logger.Logger
}

type Option func(*QueryService)

// WithRetrieval overrides the ranking defaults.
func WithRetrieval(cfg config.RetrievalConfig) Option {
	return func(s *QueryService) { s.cfg = cfg }
}

func NewQueryService(deps QueryDeps, state *conversation.State, opts ...Option) *QueryService {
	s := &QueryService{
		deps:  deps,
		state: state,
		cfg: config.RetrievalConfig{
			TopK:                3,
			Diversity:           true,
			MaxPerGuest:         retriever.DefaultMaxPerGuest,
			PreferenceThreshold: 0.6,
		},
		log: deps.Logger,
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.deps.Prompts == nil {
		s.deps.Prompts = prompt.NewBuilder(prompt.DefaultMaxContextChars)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DefaultRequest is a request for question with the configured defaults.
func (s *QueryService) DefaultRequest(question string) Request {
	return Request{Question: question, TopK: s.cfg.TopK, Diversity: s.cfg.Diversity}
}

// prepared is everything decided before generation.
type prepared struct {
	req        Request
	query      domain.ProcessedQuery
	candidates []domain.RetrievalCandidate
	messages   []domain.Message
}

// prepare preprocesses, retrieves and builds the outgoing messages. Unless the
// request is stateless it records the question as a user turn, after retrieval
// has succeeded.
func (s *QueryService) prepare(ctx context.Context, req Request) (*prepared, error) {
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		return nil, rerrors.NewInvalidRequest("question must not be empty")
	}
	if req.TopK <= 0 {
		req.TopK = s.cfg.TopK
	}

	var snapshot *domain.ConversationContext
	if !req.Stateless {
		snap := s.state.Snapshot()
		snapshot = &snap
	}
	pq := s.deps.Preprocessor.Preprocess(req.Question, snapshot)

	var prefer string
	if req.GuestFilter == "" && pq.SuggestedGuest != "" && pq.Confidence >= s.cfg.PreferenceThreshold {
		prefer = pq.SuggestedGuest
	}

	vec, err := s.deps.Retriever.EmbedQuery(ctx, pq.Rewritten)
	if err != nil {
		return nil, err
	}
	var candidates []domain.RetrievalCandidate
	if req.Diversity && req.GuestFilter == "" {
		candidates, err = s.deps.Retriever.RetrieveWithDiversity(ctx, vec, retriever.DiversityOptions{
			TopK:           req.TopK,
			MaxPerGuest:    s.cfg.MaxPerGuest,
			PreferredGuest: prefer,
			MinScore:       s.cfg.MinScore,
			IndustryFilter: req.IndustryFilter,
		})
	} else {
		candidates, err = s.deps.Retriever.Retrieve(ctx, vec, retriever.Options{
			TopK:           req.TopK,
			GuestFilter:    req.GuestFilter,
			IndustryFilter: req.IndustryFilter,
			MinScore:       s.cfg.MinScore,
			PreferredGuest: prefer,
		})
	}
	if err != nil {
		s.log.Error("retrieval failed", logrus.Fields{"question": req.Question, "error": err.Error()})
		return nil, err
	}

	s.log.Info("query prepared", logrus.Fields{
		"question":   req.Question,
		"rewritten":  pq.Rewritten,
		"follow_up":  pq.IsFollowUp,
		"preferred":  prefer,
		"confidence": pq.Confidence,
		"candidates": len(candidates),
	})

	excerpts := s.deps.Prompts.BuildContext(candidates)
	var messages []domain.Message
	if req.Stateless {
		messages = []domain.Message{
			{Role: domain.RoleSystem, Content: s.state.SystemPrompt()},
			{Role: domain.RoleUser, Content: prompt.BuildUserPrompt(req.Question, excerpts, len(candidates))},
		}
	} else {
		s.state.AddUserTurn(req.Question)
		messages = s.state.Messages()
		last := &messages[len(messages)-1]
		last.Content += prompt.ContextNote(len(candidates), excerpts)
	}
	return &prepared{req: req, query: pq, candidates: candidates, messages: messages}, nil
}

// commit records a completed answer. It runs once per successful generation.
func (s *QueryService) commit(p *prepared, answer string) {
	if p.req.Stateless {
		return
	}
	s.state.AddAssistantTurn(answer)
	s.state.UpdateContext(prompt.Guests(p.candidates), prompt.Topics(p.candidates, topicsPerTurn))
}

// Answer runs the full lifecycle and waits for the complete generation.
// A generation failure leaves the recorded question in history without an answer.
func (s *QueryService) Answer(ctx context.Context, req Request) (*Response, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	text, err := s.deps.Generator.Generate(ctx, p.messages)
	if err != nil {
		s.log.Error("generation failed", logrus.Fields{"question": p.req.Question, "error": err.Error()})
		return nil, rerrors.NewGenerationFailure(err)
	}
	s.commit(p, text)
	return &Response{Answer: text, Sources: p.candidates, Query: p.query, Model: s.deps.Generator.Model()}, nil
}

// Stream retrieves like Answer and then generates incrementally.
// The caller must drain Tokens or call Cancel.
func (s *QueryService) Stream(ctx context.Context, req Request) (*Stream, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	upstream, err := s.deps.Generator.GenerateStream(ctx, p.messages)
	if err != nil {
		cancel()
		s.log.Error("generation failed", logrus.Fields{"question": p.req.Question, "error": err.Error()})
		return nil, rerrors.NewGenerationFailure(err)
	}
	st := &Stream{
		tokens:  make(chan string, 64),
		done:    make(chan struct{}),
		cancel:  cancel,
		sources: p.candidates,
		query:   p.query,
	}
	go st.run(ctx, upstream, func(answer string) { s.commit(p, answer) }, s.log)
	return st, nil
}

// ClearConversation forgets the session's turns and context.
func (s *QueryService) ClearConversation() { s.state.Clear() }

// History is the session's turns, oldest first, without the system prompt.
func (s *QueryService) History() []domain.Message { return s.state.History() }

// Context is the session's current conversation context.
func (s *QueryService) Context() domain.ConversationContext { return s.state.Snapshot() }

func (s *QueryService) State() *conversation.State { return s.state }

// Stream is an in-flight streamed answer.
type Stream struct {
	tokens  chan string
	done    chan struct{}
	cancel  context.CancelFunc
	sources []domain.RetrievalCandidate
	query   domain.ProcessedQuery

	once   sync.Once
	answer string
	err    error
}

// Tokens yields text increments and closes when the stream ends for any reason.
func (st *Stream) Tokens() <-chan string { return st.tokens }

// Sources are the candidates the answer is grounded on, known before the first token.
func (st *Stream) Sources() []domain.RetrievalCandidate { return st.sources }

func (st *Stream) Query() domain.ProcessedQuery { return st.query }

// Cancel stops generation. A cancelled stream records no answer.
func (st *Stream) Cancel() { st.cancel() }

// Wait blocks until the stream has finished and returns the full answer.
func (st *Stream) Wait() (string, error) {
	<-st.done
	return st.answer, st.err
}

// Done is closed once the stream has finished and any answer has been recorded.
func (st *Stream) Done() <-chan struct{} { return st.done }

func (st *Stream) run(ctx context.Context, upstream <-chan domain.StreamToken, commit func(string), log *logger.Logger) {
	defer st.cancel()
	var sb strings.Builder
	completed := false
	var genErr error

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case tok, ok := <-upstream:
			if !ok {
				break loop
			}
			if tok.Error != nil {
				genErr = tok.Error
				break loop
			}
			if tok.Content != "" {
				sb.WriteString(tok.Content)
				select {
				case st.tokens <- tok.Content:
				case <-ctx.Done():
					break loop
				}
			}
			if tok.Done {
				completed = true
				break loop
			}
		}
	}

	switch {
	case completed && ctx.Err() == nil:
		st.finalize(sb.String(), nil, commit)
	case genErr != nil && ctx.Err() == nil:
		log.Error("stream generation failed", logrus.Fields{"error": genErr.Error()})
		st.finalize(sb.String(), rerrors.NewGenerationFailure(genErr), nil)
	case ctx.Err() != nil:
		log.Info("stream cancelled", logrus.Fields{"received_chars": sb.Len()})
		st.finalize(sb.String(), ctx.Err(), nil)
	default:
		st.finalize(sb.String(), rerrors.NewGenerationFailure(errStreamTruncated), nil)
	}
}

// finalize ends the stream exactly once. commit is nil unless the answer is complete.
func (st *Stream) finalize(answer string, err error, commit func(string)) {
	st.once.Do(func() {
		if commit != nil {
			commit(answer)
		}
		st.answer = answer
		st.err = err
		close(st.tokens)
		close(st.done)
	})
}
