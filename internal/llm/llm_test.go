package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/config"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *ChatClient {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	t.Setenv("TEST_CHAT_KEY", "secret")
	c, err := NewChatClient(ChatConfig{BaseURL: server.URL, APIKeyEnv: "TEST_CHAT_KEY", Model: "m", Temperature: 0.7, MaxTokens: 1000})
	require.NoError(t, err)
	return c
}

func collect(t *testing.T, ch <-chan domain.StreamToken) (string, error) {
	t.Helper()
	var sb strings.Builder
	var last domain.StreamToken
	for tok := range ch {
		sb.WriteString(tok.Content)
		last = tok
	}
	require.True(t, last.Done)
	return sb.String(), last.Error
}

func TestGenerateSendsHistory(t *testing.T) {
	var got chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`))
	})

	out, err := c.Generate(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, "m", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, 1000, got.MaxTokens)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, domain.RoleSystem, got.Messages[0].Role)
}

func TestGenerateHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	_, err := c.Generate(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestGenerateStreamParsesEvents(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		for _, part := range []string{"Hel", "lo", " world"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	ch, err := c.GenerateStream(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
}

func TestGenerateStreamReportsMalformedChunk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: not-json\n\n")
	})
	ch, err := c.GenerateStream(context.Background(), nil)
	require.NoError(t, err)
	text, err := collect(t, ch)
	assert.Equal(t, "ok", text)
	assert.Error(t, err)
}

func TestMissingKeyIsConfigurationError(t *testing.T) {
	t.Setenv("EMPTY_CHAT_KEY", "")
	_, err := NewChatClient(ChatConfig{APIKeyEnv: "EMPTY_CHAT_KEY"})
	assert.True(t, rerrors.Is(err, rerrors.ErrConfiguration))
}

func TestReadEventsJoinsMultilineData(t *testing.T) {
	var got []string
	err := readEvents(strings.NewReader("data: a\ndata: b\n\nevent: x\ndata: c"), func(d string) (bool, error) {
		got = append(got, d)
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a\nb", "c"}, got)
}

const assembled = "What do they think?\n\nHere are 2 relevant moments from the podcast:\n\n" +
	"[Source 1: Sam Altman - CEO, OpenAI]\nAI will change work. Jobs will shift toward new AI roles.\n\n" +
	"[Source 2: Bill Gates - Philanthropist]\nHealth matters most.\n"

func TestExtractiveSummarizesExcerpts(t *testing.T) {
	g, err := New(config.GeneratorConfig{Type: "extractive"}, 1)
	require.NoError(t, err)
	assert.Equal(t, "extractive", g.Model())

	out, err := g.Generate(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: assembled},
	})
	require.NoError(t, err)
	paragraphs := strings.Split(out, "\n\n")
	require.Len(t, paragraphs, 2)
	assert.True(t, strings.HasPrefix(paragraphs[0], "**Sam Altman**: "))
	assert.Equal(t, "**Bill Gates**: Health matters most.", paragraphs[1])
}

func TestExtractiveWithoutExcerpts(t *testing.T) {
	g := NewExtractive(nil, 2)
	out, err := g.Generate(context.Background(), []domain.Message{{Role: domain.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Contains(t, out, "don't have anything")
}

func TestExtractiveStreamMatchesGenerate(t *testing.T) {
	g, err := New(config.GeneratorConfig{Type: "extractive"}, 2)
	require.NoError(t, err)
	msgs := []domain.Message{{Role: domain.RoleUser, Content: assembled}}

	full, err := g.Generate(context.Background(), msgs)
	require.NoError(t, err)
	ch, err := g.GenerateStream(context.Background(), msgs)
	require.NoError(t, err)
	streamed, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, full, streamed)
}
