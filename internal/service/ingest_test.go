package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/chunker"
	"podcastrag/internal/db"
	"podcastrag/internal/domain"
	"podcastrag/internal/embedding/tfidf"
	"podcastrag/internal/episodes"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/summarizer"
	"podcastrag/internal/vectorstore/memory"
)

const episodesJSON = `[
  {"id": "ep1", "guest": "Vinod Khosla", "guest_expertise": "VC", "industry_tags": ["AI"],
   "transcript": "AI will replace most jobs. Doctors will use AI daily. Founders should be bold."},
  {"id": "ep2", "guest": "Bill Gates", "guest_expertise": "Philanthropist", "industry_tags": ["health"],
   "transcript": "Vaccines save lives. Health systems need investment."}
]`

// countingStore records how the ingestor drives the vector store.
type countingStore struct {
	*memory.Storage
	clears  int
	upserts int
}

func (s *countingStore) Clear(ctx context.Context) error {
	s.clears++
	return s.Storage.Clear(ctx)
}

func (s *countingStore) Upsert(ctx context.Context, c []domain.TranscriptChunk, v [][]float64) error {
	s.upserts++
	return s.Storage.Upsert(ctx, c, v)
}

type failingEmbedder struct{ *tfidf.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("embedder offline")
}

type ingestFixture struct {
	ingestor *Ingestor
	episodes *episodes.Store
	store    *countingStore
	path     string
}

func newIngestFixture(t *testing.T, seg *chunker.Segmenter, content string) *ingestFixture {
	t.Helper()
	sqlDB, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	path := filepath.Join(t.TempDir(), "episodes.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	f := &ingestFixture{
		episodes: episodes.NewStore(sqlDB),
		store:    &countingStore{Storage: memory.NewStorage()},
		path:     path,
	}
	f.ingestor = NewIngestor(IngestDeps{
		Episodes:   f.episodes,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Segmenter:  seg,
		Embedder:   tfidf.NewEmbedder(),
		Store:      f.store,
	})
	return f
}

func defaultSegmenter(t *testing.T) *chunker.Segmenter {
	seg, err := chunker.NewSegmenter(chunker.DefaultChunkSize, chunker.DefaultOverlap)
	require.NoError(t, err)
	return seg
}

func TestIngestPathIndexesEveryChunk(t *testing.T) {
	f := newIngestFixture(t, defaultSegmenter(t), episodesJSON)
	ctx := context.Background()

	report, err := f.ingestor.IngestPath(ctx, f.path)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Episodes)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, report.Stats.Episodes)

	n, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)
	assert.Equal(t, 1, f.store.clears)

	ep, err := f.episodes.GetEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.NotEmpty(t, ep.Summary)
}

func TestIngestPathUpsertsInBatches(t *testing.T) {
	seg, err := chunker.NewSegmenter(20, 0)
	require.NoError(t, err)
	long := strings.Repeat("alpha beta gamma ", 200)
	f := newIngestFixture(t, seg, `[{"id": "ep1", "guest": "Sam Altman", "transcript": "`+long+`"}]`)

	report, err := f.ingestor.IngestPath(context.Background(), f.path)
	require.NoError(t, err)
	require.Greater(t, report.Chunks, upsertBatchSize)
	assert.Equal(t, (report.Chunks+upsertBatchSize-1)/upsertBatchSize, f.store.upserts)
}

func TestWarmReusesPopulatedStore(t *testing.T) {
	f := newIngestFixture(t, defaultSegmenter(t), episodesJSON)
	ctx := context.Background()
	_, err := f.ingestor.IngestPath(ctx, f.path)
	require.NoError(t, err)

	_, err = f.ingestor.Warm(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.clears)

	_, err = f.ingestor.Warm(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.clears)
}

func TestWarmFillsEmptyStore(t *testing.T) {
	f := newIngestFixture(t, defaultSegmenter(t), episodesJSON)
	ctx := context.Background()
	_, err := f.ingestor.IngestPath(ctx, f.path)
	require.NoError(t, err)

	// A new process starts with an empty in-memory store over the same database.
	fresh := &countingStore{Storage: memory.NewStorage()}
	warm := NewIngestor(IngestDeps{
		Episodes:   f.episodes,
		Summarizer: summarizer.NewFrequencySummarizer(),
		Segmenter:  defaultSegmenter(t),
		Embedder:   tfidf.NewEmbedder(),
		Store:      fresh,
	})
	report, err := warm.Warm(ctx, false)
	require.NoError(t, err)
	n, err := fresh.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, report.Chunks, n)
}

func TestWarmWithoutEpisodes(t *testing.T) {
	f := newIngestFixture(t, defaultSegmenter(t), episodesJSON)
	_, err := f.ingestor.Warm(context.Background(), false)
	assert.True(t, rerrors.Is(err, rerrors.ErrNotFound))
}

func TestIngestEmbedFailureIsRetrievalUnavailable(t *testing.T) {
	f := newIngestFixture(t, defaultSegmenter(t), episodesJSON)
	f.ingestor.deps.Embedder = failingEmbedder{tfidf.NewEmbedder()}

	_, err := f.ingestor.IngestPath(context.Background(), f.path)
	assert.True(t, rerrors.Is(err, rerrors.ErrRetrievalUnavailable))
}

func TestIngestMissingPath(t *testing.T) {
	f := newIngestFixture(t, defaultSegmenter(t), episodesJSON)
	_, err := f.ingestor.IngestPath(context.Background(), filepath.Join(t.TempDir(), "none.json"))
	assert.True(t, rerrors.Is(err, rerrors.ErrNotFound))
}
