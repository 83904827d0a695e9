// Package retriever ranks vector-search hits for a query: score threshold, soft guest
// preference, and per-guest diversity caps.
package retriever

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/logger"
)

// overfetch is how many raw hits are requested per wanted result.
const overfetch = 3

// DefaultMaxPerGuest caps how many results one guest may contribute in diverse retrieval.
const DefaultMaxPerGuest = 2

// Options controls Retrieve.
type Options struct {
	TopK int
	// GuestFilter and IndustryFilter are exact-match predicates applied by the store.
	GuestFilter    string
	IndustryFilter string
	MinScore       float64
	// PreferredGuest biases ranking without excluding anyone. Ignored when GuestFilter is set.
	PreferredGuest string
}

// DiversityOptions controls RetrieveWithDiversity.
type DiversityOptions struct {
	TopK           int
	MaxPerGuest    int
	PreferredGuest string
	MinScore       float64
	IndustryFilter string
}

type Retriever struct {
	embedder domain.Embedder
	store    domain.VectorStore
	log      *logger.Logger
}

func New(embedder domain.Embedder, store domain.VectorStore, log *logger.Logger) *Retriever {
	if log == nil {
		log = logger.Nop()
	}
	return &Retriever{embedder: embedder, store: store, log: log}
}

// EmbedQuery turns query text into a vector. Failures are RetrievalUnavailable.
func (r *Retriever) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, rerrors.NewRetrievalUnavailable("embed query", err)
	}
	return vec, nil
}

// Retrieve returns at most opts.TopK candidates, best first.
// A store failure is returned as RetrievalUnavailable, never as an empty result.
func (r *Retriever) Retrieve(ctx context.Context, vector []float64, opts Options) ([]domain.RetrievalCandidate, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}
	filter := domain.SearchFilter{Guest: opts.GuestFilter, Industry: opts.IndustryFilter}
	hits, err := r.store.Search(ctx, vector, opts.TopK*overfetch, filter)
	if err != nil {
		return nil, rerrors.NewRetrievalUnavailable("vector search", err)
	}

	candidates := make([]domain.RetrievalCandidate, 0, len(hits))
	for _, h := range hits {
		if h.Score < opts.MinScore {
			continue
		}
		candidates = append(candidates, domain.RetrievalCandidate{Chunk: h.Chunk, Score: h.Score})
	}
	// Stores already order by score; this only guards against stores that do not,
	// and keeps the store's order among equal scores.
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })

	if opts.PreferredGuest != "" && opts.GuestFilter == "" {
		candidates = ApplyGuestPreference(candidates, opts.PreferredGuest, opts.TopK)
	}
	if len(candidates) > opts.TopK {
		candidates = candidates[:opts.TopK]
	}

	r.log.Debug("retrieved", logrus.Fields{
		"raw_hits":   len(hits),
		"candidates": len(candidates),
		"top_k":      opts.TopK,
		"preferred":  opts.PreferredGuest,
		"filter":     opts.GuestFilter,
	})
	return candidates, nil
}

// RetrieveWithDiversity ranks 3*TopK candidates like Retrieve, then keeps at most
// MaxPerGuest results per guest, stopping at TopK.
func (r *Retriever) RetrieveWithDiversity(ctx context.Context, vector []float64, opts DiversityOptions) ([]domain.RetrievalCandidate, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}
	maxPer := opts.MaxPerGuest
	if maxPer <= 0 {
		maxPer = DefaultMaxPerGuest
	}
	candidates, err := r.Retrieve(ctx, vector, Options{
		TopK:           opts.TopK * overfetch,
		IndustryFilter: opts.IndustryFilter,
		MinScore:       opts.MinScore,
		PreferredGuest: opts.PreferredGuest,
	})
	if err != nil {
		return nil, err
	}
	return Diversify(candidates, opts.TopK, maxPer), nil
}

// ApplyGuestPreference moves candidates whose guest contains preferred (case-insensitive)
// ahead of the rest, keeping relative order within both groups. When at least topK
// candidates are preferred, only max(floor(0.8*topK), topK-1) of them lead so that other
// guests stay visible; remaining slots go to others only, so the result may be shorter
// than topK.
func ApplyGuestPreference(candidates []domain.RetrievalCandidate, preferred string, topK int) []domain.RetrievalCandidate {
	needle := strings.ToLower(preferred)
	var pref, others []domain.RetrievalCandidate
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Chunk.Guest), needle) {
			c.IsPreferred = true
			pref = append(pref, c)
		} else {
			others = append(others, c)
		}
	}

	if len(pref) < topK {
		return append(pref, others...)
	}

	quota := topK * 4 / 5
	if topK-1 > quota {
		quota = topK - 1
	}
	out := make([]domain.RetrievalCandidate, 0, topK)
	out = append(out, pref[:quota]...)
	for _, c := range others {
		if len(out) == topK {
			break
		}
		out = append(out, c)
	}
	return out
}

// Diversify walks candidates in order keeping at most maxPerGuest per guest, up to topK.
func Diversify(candidates []domain.RetrievalCandidate, topK, maxPerGuest int) []domain.RetrievalCandidate {
	counts := make(map[string]int)
	out := make([]domain.RetrievalCandidate, 0, topK)
	for _, c := range candidates {
		if len(out) >= topK {
			break
		}
		if counts[c.Chunk.Guest] >= maxPerGuest {
			continue
		}
		counts[c.Chunk.Guest]++
		out = append(out, c)
	}
	return out
}
