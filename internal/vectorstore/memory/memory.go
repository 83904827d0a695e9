package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"podcastrag/internal/domain"
)

// Storage is an in-memory vector store using brute-force cosine similarity.
// Ties are ordered by episode id, then chunk index.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float64
	chunks    []domain.TranscriptChunk
}

func NewStorage() *Storage { return &Storage{} }

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != dimension {
		s.vectors = nil
		s.chunks = nil
	}
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.TranscriptChunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vectors {
		if len(v) != s.dimension {
			return errors.New("vector dimension mismatch")
		}
	}
	index := make(map[chunkKey]int, len(s.chunks))
	for i, c := range s.chunks {
		index[keyOf(c)] = i
	}
	for i, c := range chunks {
		if j, ok := index[keyOf(c)]; ok {
			s.chunks[j] = c
			s.vectors[j] = vectors[i]
			continue
		}
		index[keyOf(c)] = len(s.chunks)
		s.chunks = append(s.chunks, c)
		s.vectors = append(s.vectors, vectors[i])
	}
	return nil
}

type chunkKey struct {
	episode string
	index   int
}

func keyOf(c domain.TranscriptChunk) chunkKey { return chunkKey{c.EpisodeID, c.ChunkIndex} }

func (s *Storage) Search(ctx context.Context, vector []float64, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 5
	}
	hits := make([]domain.SearchHit, 0, len(s.chunks))
	for i := range s.vectors {
		if !filter.Matches(s.chunks[i]) {
			continue
		}
		hits = append(hits, domain.SearchHit{Chunk: s.chunks[i], Score: cosine(s.vectors[i], vector)})
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Chunk.EpisodeID != b.Chunk.EpisodeID {
			return a.Chunk.EpisodeID < b.Chunk.EpisodeID
		}
		return a.Chunk.ChunkIndex < b.Chunk.ChunkIndex
	})
	if limit < len(hits) {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = nil
	s.chunks = nil
	return nil
}

func cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
