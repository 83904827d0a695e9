package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/conversation"
	"podcastrag/internal/domain"
	"podcastrag/internal/episodes"
	"podcastrag/internal/llm"
	"podcastrag/internal/preprocess"
	"podcastrag/internal/prompt"
	"podcastrag/internal/retriever"
	"podcastrag/internal/service"
	"podcastrag/internal/summarizer"
	"podcastrag/internal/vectorstore/memory"
)

type unitEmbedder struct{}

func (unitEmbedder) Name() string           { return "unit" }
func (unitEmbedder) Prepare([]string) error { return nil }
func (unitEmbedder) Dimension() int         { return 1 }
func (unitEmbedder) Embed(context.Context, string) ([]float64, error) {
	return []float64{1}, nil
}

type guestList struct{ err error }

func (g guestList) Guests(context.Context) ([]episodes.GuestCount, error) {
	if g.err != nil {
		return nil, g.err
	}
	return []episodes.GuestCount{{Guest: "Bill Gates", Episodes: 1}, {Guest: "Vinod Khosla", Episodes: 2}}, nil
}

func newHandlers(t *testing.T, guests GuestLister) (*Handlers, *service.QueryService) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStorage()
	require.NoError(t, store.Init(ctx, 1))
	require.NoError(t, store.Upsert(ctx, []domain.TranscriptChunk{
		{Text: "AI will replace most jobs.", EpisodeID: "ep1", Guest: "Vinod Khosla", IndustryTags: []string{"AI"}, TotalChunks: 1},
		{Text: "Vaccines save lives.", EpisodeID: "ep2", Guest: "Bill Gates", IndustryTags: []string{"health"}, TotalChunks: 1},
	}, [][]float64{{1}, {1}}))

	svc := service.NewQueryService(service.QueryDeps{
		Preprocessor: preprocess.MustDefault(),
		Retriever:    retriever.New(unitEmbedder{}, store, nil),
		Generator:    llm.NewExtractive(summarizer.NewFrequencySummarizer(), 1),
	}, conversation.NewState(conversation.DefaultMaxTurns, prompt.DefaultSystemPrompt))
	return NewHandlers(svc, guests, nil), svc
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestAskPodcastUpdatesConversation(t *testing.T) {
	h, svc := newHandlers(t, nil)
	res, err := h.HandleAsk(context.Background(), call(map[string]any{"question": "What about vaccines?", "industry": "health"}))
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(t, res))

	var out askResponse
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &out))
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "Bill Gates", out.Sources[0].Guest)
	assert.Contains(t, out.Answer, "**Bill Gates**")
	assert.Contains(t, out.SourcesText, "Bill Gates")
	assert.Len(t, svc.History(), 2)

	res, err = h.HandleClear(context.Background(), call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Empty(t, svc.History())
}

func TestAskPodcastStateless(t *testing.T) {
	h, svc := newHandlers(t, nil)
	res, err := h.HandleAsk(context.Background(), call(map[string]any{"question": "AI?", "stateless": true, "top_k": 1}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out askResponse
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &out))
	assert.Len(t, out.Sources, 1)
	assert.Empty(t, svc.History())
}

func TestAskPodcastErrors(t *testing.T) {
	h, _ := newHandlers(t, nil)

	res, err := h.HandleAsk(context.Background(), call(map[string]any{"question": ""}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), `"INVALID_REQUEST"`)

	res, err = h.HandleAsk(context.Background(), call(map[string]any{"question": 42}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListGuests(t *testing.T) {
	h, _ := newHandlers(t, guestList{})
	res, err := h.HandleGuests(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, textOf(t, res), `"Vinod Khosla"`)

	h, _ = newHandlers(t, guestList{err: errors.New("db locked")})
	res, err = h.HandleGuests(context.Background(), call(nil))
	require.NoError(t, err)
	require.True(t, res.IsError)
	assert.NotContains(t, textOf(t, res), "db locked")
}

func TestNewServer(t *testing.T) {
	h, _ := newHandlers(t, guestList{})
	assert.NotNil(t, NewServer(h, "test"))
}
