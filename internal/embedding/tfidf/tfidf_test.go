package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []string{
	"Artificial intelligence will change engineering jobs.",
	"Ride sharing markets grew across cities.",
	"Venture capital funds bold founders.",
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func TestEmbedBeforePrepareFails(t *testing.T) {
	_, err := NewEmbedder().Embed(context.Background(), "anything")
	require.Error(t, err)
}

func TestEmbedIsNormalizedAndDeterministic(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))
	require.Greater(t, e.Dimension(), 0)

	v1, err := e.Embed(context.Background(), "engineering jobs and intelligence")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "engineering jobs and intelligence")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.InDelta(t, 1.0, math.Sqrt(dot(v1, v1)), 1e-9)
}

func TestRelatedTextScoresHigher(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))
	ctx := context.Background()

	q, _ := e.Embed(ctx, "jobs for engineers in an AI world: engineering")
	ai, _ := e.Embed(ctx, corpus[0])
	rides, _ := e.Embed(ctx, corpus[1])

	assert.Greater(t, dot(q, ai), dot(q, rides))
}

func TestUnknownTermsGiveZeroVector(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))

	v, err := e.Embed(context.Background(), "zzz qqq")
	require.NoError(t, err)
	assert.Zero(t, dot(v, v))
}

func TestEmbedHonorsCancelledContext(t *testing.T) {
	e := NewEmbedder()
	require.NoError(t, e.Prepare(corpus))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Embed(ctx, "jobs")
	require.ErrorIs(t, err, context.Canceled)
}

func TestPrepareRejectsEmptyCorpus(t *testing.T) {
	require.Error(t, NewEmbedder().Prepare(nil))
	require.Error(t, NewEmbedder().Prepare([]string{"the and of"}))
}
