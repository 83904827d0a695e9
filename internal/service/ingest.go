package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"podcastrag/internal/chunker"
	"podcastrag/internal/domain"
	"podcastrag/internal/episodes"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/logger"
)

const upsertBatchSize = 100

// IngestDeps are the collaborators of an Ingestor.
type IngestDeps struct {
	Episodes            domain.EpisodeStore
	Summarizer          domain.Summarizer
	Segmenter           *chunker.Segmenter
	Embedder            domain.Embedder
	Store               domain.VectorStore
	SummaryMaxSentences int
	Logger              *logger.Logger
}

// IngestReport describes one indexing run.
type IngestReport struct {
	Episodes int           `json:"episodes"`
	Chunks   int           `json:"chunks"`
	Stats    chunker.Stats `json:"stats"`
	Duration time.Duration `json:"duration"`
}

// Ingestor loads episodes, stores them and indexes their chunks. Runs are serialized.
type Ingestor struct {
	deps IngestDeps
	log  *logger.Logger
	mu   sync.Mutex
}

func NewIngestor(deps IngestDeps) *Ingestor {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	if deps.SummaryMaxSentences <= 0 {
		deps.SummaryMaxSentences = 3
	}
	return &Ingestor{deps: deps, log: log}
}

// IngestPath loads the episodes at path, summarizes and saves them, then rebuilds the index.
func (in *Ingestor) IngestPath(ctx context.Context, path string) (*IngestReport, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	eps, err := episodes.LoadPath(path)
	if err != nil {
		return nil, err
	}
	for i := range eps {
		summary, err := in.deps.Summarizer.Summarize(eps[i].Transcript, in.deps.SummaryMaxSentences)
		if err != nil {
			return nil, fmt.Errorf("summarize %s: %w", eps[i].ID, err)
		}
		eps[i].Summary = summary
	}
	if err := in.deps.Episodes.SaveEpisodes(ctx, eps); err != nil {
		return nil, rerrors.NewInternal(err)
	}
	in.log.Info("episodes saved", logrus.Fields{"path": path, "episodes": len(eps)})

	all, err := in.deps.Episodes.ListEpisodes(ctx)
	if err != nil {
		return nil, rerrors.NewInternal(err)
	}
	return in.index(ctx, all, true)
}

// Warm makes a fresh process ready to answer from the stored episodes. The embedder is always
// prepared; vectors are rebuilt only when the store is empty or force is set.
func (in *Ingestor) Warm(ctx context.Context, force bool) (*IngestReport, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	all, err := in.deps.Episodes.ListEpisodes(ctx)
	if err != nil {
		return nil, rerrors.NewInternal(err)
	}
	if len(all) == 0 {
		return nil, rerrors.NewNotFound("episodes", "run ingest first")
	}
	return in.index(ctx, all, force)
}

func (in *Ingestor) index(ctx context.Context, eps []domain.Episode, force bool) (*IngestReport, error) {
	start := time.Now()
	chunks := in.deps.Segmenter.SegmentAll(eps)
	if len(chunks) == 0 {
		return nil, rerrors.NewInvalidRequest("episodes produced no transcript chunks")
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	if err := in.deps.Embedder.Prepare(texts); err != nil {
		return nil, rerrors.NewRetrievalUnavailable("prepare embedder", err)
	}
	if err := in.deps.Store.Init(ctx, in.deps.Embedder.Dimension()); err != nil {
		return nil, rerrors.NewRetrievalUnavailable("init vector store", err)
	}

	upsert := force
	if !upsert {
		n, err := in.deps.Store.Count(ctx)
		if err != nil {
			return nil, rerrors.NewRetrievalUnavailable("count vectors", err)
		}
		upsert = n == 0
	}
	report := &IngestReport{Episodes: len(eps), Chunks: len(chunks), Stats: chunker.ComputeStats(chunks)}
	if upsert {
		if err := in.upsert(ctx, chunks); err != nil {
			return nil, err
		}
	}
	report.Duration = time.Since(start)
	in.log.Info("index ready", logrus.Fields{
		"episodes": report.Episodes,
		"chunks":   report.Chunks,
		"upserted": upsert,
		"embedder": in.deps.Embedder.Name(),
		"took":     report.Duration.String(),
	})
	return report, nil
}

func (in *Ingestor) upsert(ctx context.Context, chunks []domain.TranscriptChunk) error {
	if err := in.deps.Store.Clear(ctx); err != nil {
		return rerrors.NewRetrievalUnavailable("clear vector store", err)
	}
	for lo := 0; lo < len(chunks); lo += upsertBatchSize {
		hi := min(lo+upsertBatchSize, len(chunks))
		batch := chunks[lo:hi]
		vectors := make([][]float64, len(batch))
		for i, c := range batch {
			vec, err := in.deps.Embedder.Embed(ctx, c.Text)
			if err != nil {
				return rerrors.NewRetrievalUnavailable("embed chunk", err)
			}
			vectors[i] = vec
		}
		if err := in.deps.Store.Upsert(ctx, batch, vectors); err != nil {
			return rerrors.NewRetrievalUnavailable("upsert vectors", err)
		}
		in.log.Debug("batch upserted", logrus.Fields{"from": lo, "to": hi})
	}
	return nil
}
