package episodes

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/db"
	"podcastrag/internal/domain"
	rerrors "podcastrag/internal/errors"
)

const sample = `[
  {"id": "ep1", "guest": " Sam Altman ", "guest_expertise": "CEO, OpenAI",
   "industry_tags": ["AI", "AI", "startups"], "episode_themes": ["AGI"],
   "youtube_url": "https://youtube.com/watch?v=1", "date": "2024-01-01",
   "transcript": "AI is coming. It changes work."},
  {"id": "ep2", "guest": "Bill Gates", "transcript": "Health first."}
]`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPathFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "episodes.json", sample)

	eps, err := LoadPath(path)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "Sam Altman", eps[0].Guest)
	assert.Equal(t, []string{"AI", "startups"}, eps[0].IndustryTags)
	assert.Equal(t, "Health first.", eps[1].Transcript)
}

func TestLoadPathDirectoryReplacesByID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", sample)
	writeFile(t, dir, "b.json", `{"id": "ep2", "guest": "Bill Gates", "transcript": "Updated."}`)
	writeFile(t, dir, "notes.txt", "ignored")

	eps, err := LoadPath(dir)
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "Updated.", eps[1].Transcript)
}

func TestLoadPathErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadPath(filepath.Join(dir, "missing.json"))
	assert.True(t, rerrors.Is(err, rerrors.ErrNotFound))

	_, err = LoadPath(writeFile(t, dir, "empty.json", "[]"))
	assert.True(t, rerrors.Is(err, rerrors.ErrInvalidRequest))

	_, err = LoadPath(writeFile(t, dir, "noid.json", `[{"guest": "x", "transcript": "t"}]`))
	assert.Error(t, err)

	_, err = LoadPath(writeFile(t, dir, "bad.json", `[{`))
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	sqlDB, err := db.Init(t.TempDir())
	require.NoError(t, err)
	defer sqlDB.Close()
	store := NewStore(sqlDB)
	ctx := context.Background()

	eps, err := LoadPath(writeFile(t, t.TempDir(), "episodes.json", sample))
	require.NoError(t, err)
	eps[0].Summary = "AI is coming."
	require.NoError(t, store.SaveEpisodes(ctx, eps))

	got, err := store.GetEpisode(ctx, "ep1")
	require.NoError(t, err)
	assert.Equal(t, eps[0], *got)

	eps[1].Transcript = "Changed."
	require.NoError(t, store.SaveEpisodes(ctx, eps[1:]))
	list, err := store.ListEpisodes(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Changed.", list[1].Transcript)
	assert.Equal(t, []string{}, list[1].IndustryTags)

	guests, err := store.Guests(ctx)
	require.NoError(t, err)
	assert.Equal(t, []GuestCount{{Guest: "Bill Gates", Episodes: 1}, {Guest: "Sam Altman", Episodes: 1}}, guests)

	_, err = store.GetEpisode(ctx, "nope")
	assert.True(t, rerrors.Is(err, rerrors.ErrNotFound))
}

var _ domain.EpisodeStore = (*Store)(nil)
