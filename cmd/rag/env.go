package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"podcastrag/internal/chunker"
	"podcastrag/internal/config"
	"podcastrag/internal/conversation"
	"podcastrag/internal/db"
	"podcastrag/internal/domain"
	"podcastrag/internal/embedding"
	"podcastrag/internal/episodes"
	"podcastrag/internal/llm"
	"podcastrag/internal/logger"
	"podcastrag/internal/preprocess"
	"podcastrag/internal/prompt"
	"podcastrag/internal/retriever"
	"podcastrag/internal/service"
	"podcastrag/internal/session"
	"podcastrag/internal/summarizer"
	"podcastrag/internal/vectorstore"
)

// logMode selects where a command sends its logs.
type logMode int

const (
	// logStderr logs to stderr and, when configured, the log file.
	logStderr logMode = iota
	// logFileOnly keeps the terminal clean for the TUI and the MCP stdio transport.
	logFileOnly
)

// env is every component a command may need, assembled from one config.
type env struct {
	cfg *config.AppConfig
	log *logger.Logger
	db  *sqlx.DB

	episodes     *episodes.Store
	sessions     *session.Store
	embedder     domain.Embedder
	vectors      domain.VectorStore
	generator    domain.Generator
	preprocessor *preprocess.Preprocessor
	retriever    *retriever.Retriever
	prompts      *prompt.Builder
	systemPrompt string
	ingestor     *service.Ingestor
}

// loadConfig reads path, or the default locations when path is empty.
func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

func newEnv(ctx context.Context, cfgPath string, mode logMode) (*env, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	opts := logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, File: cfg.Log.File}
	if mode == logFileOnly {
		opts.Quiet = true
	}
	log, err := logger.New(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}

	e := &env{cfg: cfg, log: log}
	if err := e.build(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *env) build() error {
	cfg := e.cfg
	var err error

	if e.db, err = db.Init(cfg.Storage.Dir); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	e.episodes = episodes.NewStore(e.db)
	e.sessions = session.NewStore(e.db)

	if e.embedder, err = embedding.New(cfg.Embedder); err != nil {
		return err
	}
	if e.vectors, err = vectorstore.New(cfg.VectorStore); err != nil {
		return err
	}
	if e.generator, err = llm.New(cfg.Generator, cfg.Summarizer.MaxSentences); err != nil {
		return err
	}
	if e.preprocessor, err = preprocess.New(preprocess.RulesFromConfig(cfg.Preprocess)); err != nil {
		return err
	}
	if e.systemPrompt, err = prompt.SystemPrompt(cfg.Prompt.SystemPromptFile); err != nil {
		return err
	}
	seg, err := chunker.NewSegmenter(cfg.Chunker.ChunkSize, cfg.Chunker.Overlap)
	if err != nil {
		return err
	}

	e.prompts = prompt.NewBuilder(cfg.Prompt.MaxContextChars)
	e.retriever = retriever.New(e.embedder, e.vectors, e.log)
	e.ingestor = service.NewIngestor(service.IngestDeps{
		Episodes:            e.episodes,
		Summarizer:          summarizer.NewFrequencySummarizer(),
		Segmenter:           seg,
		Embedder:            e.embedder,
		Store:               e.vectors,
		SummaryMaxSentences: cfg.Summarizer.MaxSentences,
		Logger:              e.log,
	})
	e.log.Debug("components ready", logrus.Fields{
		"embedder":     e.embedder.Name(),
		"vector_store": cfg.VectorStore.Type,
		"persistent":   vectorstore.Persistent(cfg.VectorStore),
		"model":        e.generator.Model(),
	})
	return nil
}

// newQueryService returns a service over a fresh conversation.
func (e *env) newQueryService() *service.QueryService {
	return service.NewQueryService(service.QueryDeps{
		Preprocessor: e.preprocessor,
		Retriever:    e.retriever,
		Prompts:      e.prompts,
		Generator:    e.generator,
		Logger:       e.log,
	}, conversation.NewState(e.cfg.Conversation.MaxTurns, e.systemPrompt), service.WithRetrieval(e.cfg.Retrieval))
}

// warm makes sure the vector store holds the stored episodes before a query.
func (e *env) warm(ctx context.Context) error {
	report, err := e.ingestor.Warm(ctx, false)
	if err != nil {
		return err
	}
	e.log.Debug("warm index", logrus.Fields{"episodes": report.Episodes, "chunks": report.Chunks})
	return nil
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	if e.log != nil {
		e.log.Close()
	}
}
