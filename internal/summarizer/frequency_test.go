package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeKeepsOriginalOrder(t *testing.T) {
	text := "Startups need focus. The weather was nice. Focus wins for startups and founders. Lunch was late."
	got, err := NewFrequencySummarizer().Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Startups need focus. Focus wins for startups and founders.", got)
}

func TestSummarizeShortInputs(t *testing.T) {
	s := NewFrequencySummarizer()

	got, err := s.Summarize("  no punctuation here  ", 3)
	require.NoError(t, err)
	assert.Equal(t, "no punctuation here", got)

	got, err = s.Summarize("One. Two.", 5)
	require.NoError(t, err)
	assert.Equal(t, "One. Two.", got)

	got, err = s.Summarize("", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}
