package domain

import (
	"context"
	"strings"
)

// Episode is one raw podcast transcript together with its metadata.
type Episode struct {
	ID             string   `json:"id" db:"id"`
	Guest          string   `json:"guest" db:"guest"`
	GuestExpertise string   `json:"guest_expertise" db:"guest_expertise"`
	IndustryTags   []string `json:"industry_tags" db:"-"`
	EpisodeThemes  []string `json:"episode_themes" db:"-"`
	YouTubeURL     string   `json:"youtube_url" db:"youtube_url"`
	Date           string   `json:"date" db:"date"`
	Transcript     string   `json:"transcript" db:"transcript"`
	Summary        string   `json:"summary,omitempty" db:"summary"`
}

// TranscriptChunk is a bounded window of an episode transcript with provenance.
// ChunkIndex is always in [0, TotalChunks).
type TranscriptChunk struct {
	Text           string   `json:"text"`
	EpisodeID      string   `json:"episode_id"`
	Guest          string   `json:"guest"`
	GuestExpertise string   `json:"guest_expertise"`
	IndustryTags   []string `json:"industry_tags"`
	EpisodeThemes  []string `json:"episode_themes"`
	YouTubeURL     string   `json:"youtube_url"`
	Date           string   `json:"date"`
	ChunkIndex     int      `json:"chunk_index"`
	TotalChunks    int      `json:"total_chunks"`
}

// SearchHit is a raw match returned by a VectorStore.
type SearchHit struct {
	Chunk TranscriptChunk
	Score float64
}

// RetrievalCandidate is a ranked hit produced for one query.
type RetrievalCandidate struct {
	Chunk       TranscriptChunk `json:"chunk"`
	Score       float64         `json:"score"`
	IsPreferred bool            `json:"is_preferred"`
}

// SearchFilter holds exact-match predicates pushed down to the vector store.
// Empty fields do not filter.
type SearchFilter struct {
	Guest    string
	Industry string
}

// IsZero reports whether the filter has no predicates.
func (f SearchFilter) IsZero() bool { return f.Guest == "" && f.Industry == "" }

// Matches reports whether a chunk satisfies every predicate of the filter.
func (f SearchFilter) Matches(c TranscriptChunk) bool {
	if f.Guest != "" && c.Guest != f.Guest {
		return false
	}
	if f.Industry != "" {
		found := false
		for _, t := range c.IndustryTags {
			if t == f.Industry {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn or system instruction.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is a snapshot of what a session has recently discussed.
// Both lists are most-recent-first and free of duplicates.
type ConversationContext struct {
	ActiveGuests []string `json:"active_guests"`
	RecentTopics []string `json:"recent_topics"`
}

// HasContext reports whether anything has been discussed yet.
func (c ConversationContext) HasContext() bool {
	return len(c.ActiveGuests) > 0 || len(c.RecentTopics) > 0
}

// ProcessedQuery is the preprocessor's view of a raw user query.
// Empty SuggestedGuest and DetectedGuest mean no suggestion and no mention.
type ProcessedQuery struct {
	Original       string  `json:"original"`
	Rewritten      string  `json:"rewritten"`
	IsFollowUp     bool    `json:"is_follow_up"`
	SuggestedGuest string  `json:"suggested_guest,omitempty"`
	DetectedGuest  string  `json:"detected_guest,omitempty"`
	Confidence     float64 `json:"confidence"`
}

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
}

// VectorStore persists chunk vectors and supports filtered similarity search.
// Search returns hits ordered by descending score.
type VectorStore interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []TranscriptChunk, vectors [][]float64) error
	Search(ctx context.Context, vector []float64, limit int, filter SearchFilter) ([]SearchHit, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// StreamToken is one increment of a streamed generation.
type StreamToken struct {
	Content string
	Done    bool
	Error   error
}

// Generator produces assistant text from a message history.
type Generator interface {
	Model() string
	Generate(ctx context.Context, messages []Message) (string, error)
	GenerateStream(ctx context.Context, messages []Message) (<-chan StreamToken, error)
}

// EpisodeStore is a read/write source of raw episodes.
type EpisodeStore interface {
	SaveEpisodes(ctx context.Context, episodes []Episode) error
	ListEpisodes(ctx context.Context) ([]Episode, error)
	GetEpisode(ctx context.Context, id string) (*Episode, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// UniqueStrings returns the input without duplicates or blanks, keeping first occurrences.
func UniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
