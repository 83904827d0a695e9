package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podcastrag/internal/config"
	rerrors "podcastrag/internal/errors"
	"podcastrag/internal/vectorstore/memory"
	"podcastrag/internal/vectorstore/qdrant"
)

func TestNewSelectsImplementation(t *testing.T) {
	store, err := New(config.VectorStoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &memory.Storage{}, store)

	store, err = New(config.VectorStoreConfig{Type: "qdrant", Qdrant: &config.QdrantConfig{URL: "http://localhost:6333", Collection: "c"}})
	require.NoError(t, err)
	assert.IsType(t, &qdrant.Storage{}, store)
}

func TestNewRejectsUnknownOrIncomplete(t *testing.T) {
	_, err := New(config.VectorStoreConfig{Type: "faiss"})
	assert.True(t, rerrors.Is(err, rerrors.ErrConfiguration))

	_, err = New(config.VectorStoreConfig{Type: "qdrant"})
	assert.True(t, rerrors.Is(err, rerrors.ErrConfiguration))
}

func TestPersistent(t *testing.T) {
	assert.True(t, Persistent(config.VectorStoreConfig{Type: "qdrant"}))
	assert.False(t, Persistent(config.VectorStoreConfig{Type: "memory"}))
}
