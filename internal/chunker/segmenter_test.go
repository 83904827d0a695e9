package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

func newSegmenter(t *testing.T, size, overlap int) *Segmenter {
	t.Helper()
	s, err := NewSegmenter(size, overlap)
	require.NoError(t, err)
	return s
}

func TestNewSegmenterRejectsBadSizing(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap larger than size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSegmenter(tc.size, tc.overlap)
			require.Error(t, err)
			assert.True(t, rerrors.Is(err, rerrors.ErrConfiguration))
		})
	}
}

func TestSegmenterReportsSizing(t *testing.T) {
	s := newSegmenter(t, 200, 30)
	assert.Equal(t, 200, s.ChunkSize())
	assert.Equal(t, 30, s.Overlap())
}

func TestSegmentEmptyText(t *testing.T) {
	s := newSegmenter(t, DefaultChunkSize, DefaultOverlap)
	assert.Empty(t, s.Segment(""))
	assert.Empty(t, s.Segment("   \n\t "))
}

func TestSegmentShortTextIsOneTrimmedChunk(t *testing.T) {
	s := newSegmenter(t, DefaultChunkSize, DefaultOverlap)
	got := s.Segment("  We talked about AI. And about jobs!  \n")
	assert.Equal(t, []string{"We talked about AI. And about jobs!"}, got)
}

func TestSegmentSnapsToSentenceEnds(t *testing.T) {
	text := strings.Repeat("Founders should talk to users every week. ", 40)
	s := newSegmenter(t, 200, 30)

	chunks := s.Segment(text)
	require.Greater(t, len(chunks), 2)
	for i, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c, "."), "chunk %d does not end a sentence: %q", i, c)
		assert.LessOrEqual(t, len([]rune(c)), 200+boundaryWindow)
	}
	assert.True(t, strings.HasSuffix(chunks[len(chunks)-1], "week."))
}

func TestSegmentConsecutiveChunksOverlap(t *testing.T) {
	text := strings.Repeat("Markets reward patience over time. ", 30)
	s := newSegmenter(t, 150, 40)

	chunks := s.Segment(text)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		head := string([]rune(chunks[i])[:10])
		assert.Contains(t, chunks[i-1], head, "chunk %d does not share leading context", i)
	}
}

func TestSegmentSeparatorPriority(t *testing.T) {
	// A question mark appears later than the period, but the period has priority.
	text := "Alpha beta gamma. Delta epsilon zeta? " + strings.Repeat("x", 60)
	s := newSegmenter(t, 30, 0)

	chunks := s.Segment(text)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "Alpha beta gamma.", chunks[0])
}

func TestSegmentWithoutSeparatorsUsesRawWindows(t *testing.T) {
	text := strings.Repeat("a", 250)
	s := newSegmenter(t, 100, 20)

	chunks := s.Segment(text)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 90)
}

func TestSegmentAlwaysMakesProgress(t *testing.T) {
	s := newSegmenter(t, 10, 9)

	chunks := s.Segment("ab. cd. ef. gh. ij. kl. mn.")
	require.NotEmpty(t, chunks)
	assert.Equal(t, "mn.", chunks[len(chunks)-1])
}

func TestSegmentEpisodeAttachesMetadata(t *testing.T) {
	s := newSegmenter(t, 60, 10)
	ep := domain.Episode{
		ID:             "ep_01",
		Guest:          "Vinod Khosla",
		GuestExpertise: "Venture Capitalist",
		IndustryTags:   []string{"AI", "venture", "AI"},
		EpisodeThemes:  []string{"jobs", "future"},
		YouTubeURL:     "https://youtube.com/watch?v=abc",
		Date:           "2024-05-01",
		Transcript:     strings.Repeat("AI will reshape most professions. ", 8),
	}

	chunks := s.SegmentEpisode(ep)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, len(chunks), c.TotalChunks)
		assert.Equal(t, "ep_01", c.EpisodeID)
		assert.Equal(t, "Vinod Khosla", c.Guest)
		assert.Equal(t, []string{"AI", "venture"}, c.IndustryTags)
		assert.Equal(t, "2024-05-01", c.Date)
	}
}

func TestComputeStats(t *testing.T) {
	st := ComputeStats([]domain.TranscriptChunk{
		{EpisodeID: "a", Text: "1234"},
		{EpisodeID: "a", Text: "12"},
		{EpisodeID: "b", Text: "123456"},
	})
	assert.Equal(t, 3, st.Chunks)
	assert.Equal(t, 2, st.Episodes)
	assert.Equal(t, 2, st.MinChars)
	assert.Equal(t, 6, st.MaxChars)
	assert.InDelta(t, 4.0, st.MeanChars, 1e-9)
}
