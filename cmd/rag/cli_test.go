package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/db"
	"podcastrag/internal/domain"
	"podcastrag/internal/session"
)

const testEpisodes = `[
  {"id": "ep1", "guest": "Vinod Khosla", "guest_expertise": "VC", "industry_tags": ["AI"],
   "transcript": "AI will replace most jobs. Doctors will use AI daily. Founders should be bold."},
  {"id": "ep2", "guest": "Bill Gates", "guest_expertise": "Philanthropist", "industry_tags": ["health"],
   "transcript": "Vaccines save lives. Health systems need investment."}
]`

type cliFixture struct {
	cfgPath      string
	episodesPath string
	storageDir   string
}

func newCLIFixture(t *testing.T) cliFixture {
	t.Helper()
	dir := t.TempDir()
	f := cliFixture{
		cfgPath:      filepath.Join(dir, "config.yaml"),
		episodesPath: filepath.Join(dir, "episodes.json"),
		storageDir:   filepath.Join(dir, "data"),
	}
	require.NoError(t, os.WriteFile(f.episodesPath, []byte(testEpisodes), 0o644))
	cfg := fmt.Sprintf(`embedder:
  type: tfidf
vector_store:
  type: memory
generator:
  type: extractive
storage:
  dir: %q
  episodes_file: %q
log:
  level: error
`, f.storageDir, f.episodesPath)
	require.NoError(t, os.WriteFile(f.cfgPath, []byte(cfg), 0o644))
	return f
}

// run executes the CLI and returns what it wrote to stdout.
func (f cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"rag", "--config", f.cfgPath}, args...))
	return out.String(), err
}

func TestIngestAndEpisodes(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run(t, "ingest")
	require.NoError(t, err)
	var report struct {
		Episodes int `json:"episodes"`
		Chunks   int `json:"chunks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Episodes)
	assert.Equal(t, 2, report.Chunks)

	out, err = f.run(t, "episodes")
	require.NoError(t, err)
	var listed struct {
		Episodes []episodeView `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed.Episodes, 2)
	assert.NotEmpty(t, listed.Episodes[0].Summary)

	out, err = f.run(t, "episodes", "--guests")
	require.NoError(t, err)
	assert.Contains(t, out, `"Bill Gates"`)
	assert.Contains(t, out, `"Vinod Khosla"`)
}

func TestAskStreamsAnswerAndSources(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.run(t, "ingest", f.episodesPath)
	require.NoError(t, err)

	out, err := f.run(t, "ask", "--guest", "Bill Gates", "What", "about", "vaccines?")
	require.NoError(t, err)
	assert.Contains(t, out, "**Bill Gates**")
	assert.Contains(t, out, "Sources:")
	assert.NotContains(t, out, "Vinod Khosla")
}

func TestAskWithSessionRecordsHistory(t *testing.T) {
	f := newCLIFixture(t)
	_, err := f.run(t, "ingest")
	require.NoError(t, err)

	id := session.NewID()
	out, err := f.run(t, "ask", "--json", "--session", id, "What about vaccines?")
	require.NoError(t, err)
	var resp struct {
		Answer string `json:"answer"`
		Model  string `json:"model"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "extractive", resp.Model)
	assert.NotEmpty(t, resp.Answer)

	out, err = f.run(t, "history", id)
	require.NoError(t, err)
	var sess session.Session
	require.NoError(t, json.Unmarshal([]byte(out), &sess))
	require.Len(t, sess.Turns, 2)
	assert.Equal(t, "What about vaccines?", sess.Turns[0].Content)

	out, err = f.run(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	_, err = f.run(t, "clear", id)
	require.NoError(t, err)
	out, err = f.run(t, "history")
	require.NoError(t, err)
	assert.NotContains(t, out, id)
}

func TestCommandErrors(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run(t, "ask")
	require.Error(t, err)
	assert.Equal(t, "[INVALID_REQUEST] question is required", err.Error())

	_, err = f.run(t, "ask", "--session", "not-a-ulid", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")

	// nothing ingested yet
	_, err = f.run(t, "ask", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")

	_, err = f.run(t, "ingest", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")

	_, err = f.run(t, "clear")
	require.Error(t, err)
}

func TestChatSessionID(t *testing.T) {
	sqlDB, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	store := session.NewStore(sqlDB)
	ctx := context.Background()

	id, err := chatSessionID(ctx, store, "", true)
	require.NoError(t, err)
	assert.True(t, session.ValidID(id))

	_, err = chatSessionID(ctx, store, "bogus", false)
	require.Error(t, err)

	existing := session.NewID()
	require.NoError(t, store.Save(ctx, existing, nil, domain.ConversationContext{}))
	id, err = chatSessionID(ctx, store, "", true)
	require.NoError(t, err)
	assert.Equal(t, existing, id)

	id, err = chatSessionID(ctx, store, "", false)
	require.NoError(t, err)
	assert.NotEqual(t, existing, id)
}
