package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/config"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

func vinodContext() *domain.ConversationContext {
	return &domain.ConversationContext{
		ActiveGuests: []string{"Vinod Khosla"},
		RecentTopics: []string{"AI jobs"},
	}
}

func TestExplicitGuestWithoutContext(t *testing.T) {
	got := MustDefault().Preprocess("what about bill gates?", nil)
	assert.Equal(t, "Bill Gates", got.DetectedGuest)
	assert.Equal(t, "Bill Gates", got.SuggestedGuest)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.True(t, got.IsFollowUp)
	assert.Equal(t, "what about bill gates?", got.Rewritten)
}

func TestExplicitGuestBeatsActiveGuest(t *testing.T) {
	got := MustDefault().Preprocess("what does sam altman think", vinodContext())
	assert.Equal(t, "Sam Altman", got.SuggestedGuest)
	assert.Equal(t, "Sam Altman", got.DetectedGuest)
	assert.InDelta(t, 0.9, got.Confidence, 1e-9)
	assert.Equal(t, "what does sam altman think about AI jobs", got.Rewritten)
}

func TestPronounFollowUpNamesActiveGuest(t *testing.T) {
	got := MustDefault().Preprocess("what did he say about startups?", vinodContext())
	assert.True(t, got.IsFollowUp)
	assert.Contains(t, got.Rewritten, "Vinod Khosla")
	assert.Equal(t, "Vinod Khosla", got.SuggestedGuest)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
	assert.Empty(t, got.DetectedGuest)
}

func TestPronounMustBeWholeWord(t *testing.T) {
	got := MustDefault().Preprocess("explain where the industry goes with these theories next decade", vinodContext())
	assert.False(t, got.IsFollowUp)
	assert.Equal(t, got.Original, got.Rewritten)
	assert.Empty(t, got.SuggestedGuest)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
}

func TestShortQueriesAreFollowUps(t *testing.T) {
	p := MustDefault()
	assert.True(t, p.Preprocess("and jobs?", nil).IsFollowUp)
	assert.True(t, p.Preprocess("regulation", nil).IsFollowUp)
	assert.False(t, p.Preprocess("who is nikhil kamath", nil).IsFollowUp)
	assert.False(t, p.Preprocess("tell me about autonomous vehicles", nil).IsFollowUp)
	assert.False(t, p.Preprocess("how can i secure my job as an engineer in the AI future?", nil).IsFollowUp)
}

func TestNoContextKeepsQuery(t *testing.T) {
	got := MustDefault().Preprocess("  what did he say  ", &domain.ConversationContext{})
	assert.Equal(t, "what did he say", got.Original)
	assert.Equal(t, "what did he say", got.Rewritten)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	assert.Empty(t, got.SuggestedGuest)
}

func TestEmptyQuery(t *testing.T) {
	got := MustDefault().Preprocess("", vinodContext())
	assert.Equal(t, "", got.Rewritten)
	assert.Empty(t, got.DetectedGuest)
}

func TestCustomSpeakerLabel(t *testing.T) {
	rules := RulesFromConfig(config.PreprocessConfig{
		Speakers: []config.SpeakerConfig{{Pattern: `\bkamath\b`, Label: "Nikhil Kamath"}},
	})
	p, err := New(rules)
	require.NoError(t, err)

	got := p.Preprocess("does kamath like index funds", nil)
	assert.Equal(t, "Nikhil Kamath", got.DetectedGuest)
	assert.Empty(t, p.Preprocess("what about bill gates", nil).DetectedGuest)
}

func TestInvalidPatternIsConfigurationError(t *testing.T) {
	rules := DefaultRules()
	rules.FollowUpPatterns = append(rules.FollowUpPatterns, "(unclosed")
	_, err := New(rules)
	require.Error(t, err)
	assert.True(t, rerrors.Is(err, rerrors.ErrConfiguration))
}
