package chunker

import (
	"strings"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

const (
	DefaultChunkSize = 2000
	DefaultOverlap   = 200
	// boundaryWindow is how far on either side of a proposed boundary we look for a separator.
	boundaryWindow = 100
)

// separators in priority order. The first one found in the window wins.
var separators = [][]rune{
	[]rune(". "),
	[]rune("? "),
	[]rune("! "),
	[]rune("\n\n"),
}

// Segmenter splits transcripts into overlapping character windows that prefer to end on sentence
// or paragraph boundaries.
type Segmenter struct {
	chunkSize int
	overlap   int
}

// NewSegmenter validates the sizing. overlap must satisfy 0 <= overlap < chunkSize.
func NewSegmenter(chunkSize, overlap int) (*Segmenter, error) {
	if chunkSize <= 0 {
		return nil, rerrors.NewConfigurationf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, rerrors.NewConfigurationf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	return &Segmenter{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize is the maximum length of a chunk in characters.
func (s *Segmenter) ChunkSize() int { return s.chunkSize }

// Overlap is how many characters consecutive chunks share.
func (s *Segmenter) Overlap() int { return s.overlap }

// Segment returns the trimmed, non-empty chunk texts of text.
func (s *Segmenter) Segment(text string) []string {
	runes := []rune(text)
	n := len(runes)
	var out []string
	start := 0
	for start < n {
		end := start + s.chunkSize
		if end >= n {
			end = n
		} else {
			end = snapBoundary(runes, start, end)
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
		if end >= n {
			break
		}
		next := end - s.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// snapBoundary moves end to just after the last separator inside [end-100, end+100],
// never looking before start. Returns end unchanged if no separator is present.
func snapBoundary(runes []rune, start, end int) int {
	lo := end - boundaryWindow
	if lo < start {
		lo = start
	}
	hi := end + boundaryWindow
	if hi > len(runes) {
		hi = len(runes)
	}
	window := runes[lo:hi]
	for _, sep := range separators {
		if idx := lastIndex(window, sep); idx >= 0 {
			return lo + idx + len(sep)
		}
	}
	return end
}

func lastIndex(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// SegmentEpisode chunks one episode and attaches its metadata to every chunk.
func (s *Segmenter) SegmentEpisode(ep domain.Episode) []domain.TranscriptChunk {
	texts := s.Segment(ep.Transcript)
	tags := domain.UniqueStrings(ep.IndustryTags)
	themes := domain.UniqueStrings(ep.EpisodeThemes)
	chunks := make([]domain.TranscriptChunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, domain.TranscriptChunk{
			Text:           text,
			EpisodeID:      ep.ID,
			Guest:          ep.Guest,
			GuestExpertise: ep.GuestExpertise,
			IndustryTags:   append([]string(nil), tags...),
			EpisodeThemes:  append([]string(nil), themes...),
			YouTubeURL:     ep.YouTubeURL,
			Date:           ep.Date,
			ChunkIndex:     i,
			TotalChunks:    len(texts),
		})
	}
	return chunks
}

// SegmentAll chunks every episode in order.
func (s *Segmenter) SegmentAll(episodes []domain.Episode) []domain.TranscriptChunk {
	var all []domain.TranscriptChunk
	for _, ep := range episodes {
		all = append(all, s.SegmentEpisode(ep)...)
	}
	return all
}

// Stats describes a chunking run.
type Stats struct {
	Chunks    int     `json:"chunks"`
	Episodes  int     `json:"episodes"`
	MinChars  int     `json:"min_chars"`
	MaxChars  int     `json:"max_chars"`
	MeanChars float64 `json:"mean_chars"`
}

// ComputeStats summarizes chunk sizes per episode set.
func ComputeStats(chunks []domain.TranscriptChunk) Stats {
	st := Stats{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return st
	}
	episodes := make(map[string]struct{})
	total := 0
	st.MinChars = -1
	for _, c := range chunks {
		episodes[c.EpisodeID] = struct{}{}
		l := len([]rune(c.Text))
		total += l
		if st.MinChars < 0 || l < st.MinChars {
			st.MinChars = l
		}
		if l > st.MaxChars {
			st.MaxChars = l
		}
	}
	st.Episodes = len(episodes)
	st.MeanChars = float64(total) / float64(len(chunks))
	return st
}
