package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"podcastrag/internal/domain"
)

// pointNamespace seeds deterministic point ids so re-ingesting a chunk overwrites it.
var pointNamespace = uuid.MustParse("6f1c2b8e-3d47-4c52-9a0e-5b7d8e2f4a61")

const upsertBatchSize = 100

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection if missing.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// PointID returns the Qdrant point id of a chunk.
func PointID(c domain.TranscriptChunk) string {
	return uuid.NewSHA1(pointNamespace, []byte(c.EpisodeID+":"+strconv.Itoa(c.ChunkIndex))).String()
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// Init creates the collection unless it already exists.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.dimension = dimension
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return err
	}
	return s.createCollection(ctx)
}

func (s *Storage) createCollection(ctx context.Context) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	_, err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil)
	return err
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.TranscriptChunk, vectors [][]float64) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		points := make([]map[string]any, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, map[string]any{
				"id":      PointID(chunks[i]),
				"vector":  vectors[i],
				"payload": chunks[i],
			})
		}
		body := map[string]any{"points": points}
		if _, err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
			return err
		}
	}
	return nil
}

type matchCondition struct {
	Key   string `json:"key"`
	Match struct {
		Value string `json:"value"`
	} `json:"match"`
}

func condition(key, value string) matchCondition {
	c := matchCondition{Key: key}
	c.Match.Value = value
	return c
}

// buildFilter translates the predicates into a Qdrant "must" filter, nil if empty.
func buildFilter(f domain.SearchFilter) map[string]any {
	var must []matchCondition
	if f.Guest != "" {
		must = append(must, condition("guest", f.Guest))
	}
	if f.Industry != "" {
		must = append(must, condition("industry_tags", f.Industry))
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func (s *Storage) Search(ctx context.Context, vector []float64, limit int, filter domain.SearchFilter) ([]domain.SearchHit, error) {
	if limit <= 0 {
		limit = 5
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := buildFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			Score   float64                `json:"score"`
			Payload domain.TranscriptChunk `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]domain.SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.SearchHit{Chunk: r.Payload, Score: r.Score})
	}
	return hits, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/count", map[string]any{"exact": true}, &resp)
	if status == http.StatusNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Clear drops the collection and, once a dimension is known, recreates it empty.
func (s *Storage) Clear(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	if s.dimension == 0 {
		return nil
	}
	return s.createCollection(ctx)
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
// It returns the HTTP status, or 0 when no response was received.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("qdrant %s %s: decode: %w", method, url, err)
		}
	}
	return resp.StatusCode, nil
}
